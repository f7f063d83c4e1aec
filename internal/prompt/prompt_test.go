package prompt

import (
	"strings"
	"testing"

	"github.com/kjstillabower/observability-demo-service/internal/models"
)

func TestJoke(t *testing.T) {
	got, err := Joke("  goroutines ")
	if err != nil {
		t.Fatalf("Joke() error = %v", err)
	}
	if !strings.Contains(got, "a joke about goroutines?") {
		t.Errorf("Joke() = %q, want trimmed topic interpolated", got)
	}
	if !strings.Contains(got, "Include some programming terms") {
		t.Errorf("Joke() = %q, want fixed template text", got)
	}
}

func TestWeatherMessage(t *testing.T) {
	got, err := WeatherMessage(
		models.GeoLocationResponse{Address: "Oslo"},
		models.WeatherResponse{Temperature: 5.0, WindSpeed: 3.25, WeatherSymbol: "cloudy"},
	)
	if err != nil {
		t.Fatalf("WeatherMessage() error = %v", err)
	}
	for _, want := range []string{
		"temperature is 5.0 degrees",
		"wind speed is 3.25 m/s",
		"the weather is cloudy",
		"located at Oslo?",
		"Reply in norwegian.",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("WeatherMessage() missing %q in %q", want, got)
		}
	}
}

func TestWeatherMessage_EmptyFieldsVerbatim(t *testing.T) {
	got, err := WeatherMessage(models.GeoLocationResponse{}, models.WeatherResponse{Temperature: -2})
	if err != nil {
		t.Fatalf("WeatherMessage() error = %v", err)
	}
	if !strings.Contains(got, "the weather is  and I'm located at ?") {
		t.Errorf("WeatherMessage() = %q, want empty fields interpolated as-is", got)
	}
	if !strings.Contains(got, "-2.0 degrees") {
		t.Errorf("WeatherMessage() = %q, want -2.0 degrees", got)
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{5, "5.0"},
		{3.25, "3.25"},
		{-0.5, "-0.5"},
		{0, "0.0"},
	}
	for _, tt := range tests {
		if got := formatNumber(tt.in); got != tt.want {
			t.Errorf("formatNumber(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
