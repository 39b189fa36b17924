// Package agronomy holds the fixed farming rules the gateway applies without
// asking the advisory model.
//
// Irrigation advice and the heat, cold and wind warnings are read off a weather
// snapshot. The planting calendar follows the two East African rainy seasons:
// long rains March to May and short rains October to December.
//
// These rules still apply when the advisory backend is down, so a weather
// reply is never just raw numbers.
package agronomy
