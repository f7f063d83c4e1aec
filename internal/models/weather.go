package models

// WeatherResult is the combined /weather response: two upstream lookups plus a generated message.
type WeatherResult struct {
	Message       string  `json:"message"`
	Address       string  `json:"address"`
	Temperature   float64 `json:"temperature"`
	WindSpeed     float64 `json:"windSpeed"`
	WeatherSymbol string  `json:"weatherSymbol"`
}

// GeoLocationResponse is the reverse-geocode upstream payload.
type GeoLocationResponse struct {
	Address string `json:"address"`
}

// WeatherResponse is the weather-by-coordinates upstream payload.
type WeatherResponse struct {
	Temperature   float64 `json:"temperature"`
	WindSpeed     float64 `json:"windSpeed"`
	WeatherSymbol string  `json:"weatherSymbol"`
}

// NewWeatherResult assembles the response from both lookups and the generated message.
func NewWeatherResult(message string, geo GeoLocationResponse, weather WeatherResponse) WeatherResult {
	return WeatherResult{
		Message:       message,
		Address:       geo.Address,
		Temperature:   weather.Temperature,
		WindSpeed:     weather.WindSpeed,
		WeatherSymbol: weather.WeatherSymbol,
	}
}
