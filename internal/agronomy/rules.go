// ABOUTME: Rule-based irrigation advice and weather warnings for farmers
// ABOUTME: Thresholds on rain, humidity, temperature and wind from a weather snapshot

package agronomy

import "github.com/2389/awaki-gateway/internal/backend"

// Thresholds for the weather rules
const (
	HeavyRainMM   = 10.0 // expected rain above which irrigation can wait
	DryHumidity   = 40.0 // humidity below which a dry field needs water soon
	MildHumidity  = 60.0 // humidity below which soil moisture should be checked
	HeatC         = 35.0
	ColdC         = 10.0
	StrongWindKPH = 30.0
)

// Irrigation returns a one-line irrigation recommendation for the next day.
func Irrigation(w backend.WeatherSnapshot) string {
	if w.Precipitation {
		if w.RainMM > HeavyRainMM {
			return "*Hold off on irrigation.* Significant rain is expected, your crops will get plenty of water."
		}
		return "*Wait and monitor.* Some rain is expected but it may not be enough. Check soil moisture after it falls."
	}

	switch {
	case w.Humidity < DryHumidity:
		return "*Irrigate soon.* Humidity is low and no rain is forecast."
	case w.Humidity < MildHumidity:
		return "*Check soil moisture.* Humidity is moderate and no rain is forecast. Irrigate if the soil is dry."
	default:
		return "*Soil should be okay.* Humidity is good. Keep an eye on it over the next few days."
	}
}

// Warnings lists heat, cold and wind warnings that apply to w, in that order.
func Warnings(w backend.WeatherSnapshot) []string {
	var out []string
	switch {
	case w.TempC > HeatC:
		out = append(out, "*Heat warning:* very high temperatures can stress crops. Consider extra watering in the evening.")
	case w.TempC < ColdC:
		out = append(out, "*Cold warning:* low temperatures may slow growth or damage sensitive crops. Protect them if you can.")
	}
	if w.WindKPH > StrongWindKPH {
		out = append(out, "*Wind warning:* strong winds may damage plants. Stake or support tall crops.")
	}
	return out
}
