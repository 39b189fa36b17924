// ABOUTME: Seasonal planting calendar for maize and coffee
// ABOUTME: Maps a crop and calendar month to planting guidance for East Africa

package agronomy

import "time"

// Crops with a planting calendar
const (
	CropMaize  = "maize"
	CropCoffee = "coffee"
)

// Planting returns calendar guidance for crop in month. The second result is
// false when there is no calendar for the crop.
func Planting(crop string, month time.Month) (string, bool) {
	switch crop {
	case CropMaize:
		return maizeCalendar(month), true
	case CropCoffee:
		return coffeeCalendar(month), true
	default:
		return "", false
	}
}

// HasCalendar reports whether Planting knows crop.
func HasCalendar(crop string) bool {
	return crop == CropMaize || crop == CropCoffee
}

func maizeCalendar(m time.Month) string {
	switch m {
	case time.February, time.March:
		return "*Good timing for maize.* Plant now, ahead of the long rains (March to May)."
	case time.September, time.October:
		return "*Good time to plant maize.* The short rains (October to December) are coming. Prepare your land now."
	case time.April, time.May, time.November, time.December:
		return "*Late but possible for maize.* You can still plant, but expect lower yields. Keep weeds under control."
	case time.June, time.July, time.August:
		return "*Wait for the short rains.* It is too dry to plant maize now. Prepare land and seed for October."
	default:
		return "*Wait for the long rains.* It is too dry to plant maize now. Prepare land and seed for March."
	}
}

func coffeeCalendar(m time.Month) string {
	switch m {
	case time.February, time.March, time.April:
		return "*Good time to plant coffee.* Plant before the long rains and have shade trees ready."
	case time.October, time.November:
		return "*Acceptable time to plant coffee.* The short rains work, though the long rains are better."
	default:
		return "*Not ideal for planting coffee.* Coffee does best planted before the rainy season. Wait for March or April."
	}
}
