// Package prompt renders the fixed natural-language prompts sent to the text-generation backend.
package prompt

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"

	"github.com/kjstillabower/observability-demo-service/internal/models"
)

const jokeTemplate = `I'm bored with hello world apps. How about you give me a joke about {{ .Topic | trim }}? to get started?
Include some programming terms in your joke to make it more fun. Do not make any comments.
`

const weatherMessageTemplate = `I'm bored with hello world apps. How about you give me some nice motivating words for the day
based on the current temperature is {{ .Temperature }} degrees, the wind speed is {{ .WindSpeed }} m/s,
the weather is {{ .WeatherSymbol }} and I'm located at {{ .Address }}?
Do not make any comments. Reply in norwegian.
`

var (
	joke           = template.Must(template.New("joke").Funcs(sprig.TxtFuncMap()).Option("missingkey=error").Parse(jokeTemplate))
	weatherMessage = template.Must(template.New("weather-message").Funcs(sprig.TxtFuncMap()).Option("missingkey=error").Parse(weatherMessageTemplate))
)

type jokeData struct {
	Topic string
}

type weatherMessageData struct {
	Address       string
	Temperature   string
	WindSpeed     string
	WeatherSymbol string
}

// Joke returns the joke prompt for topic.
func Joke(topic string) (string, error) {
	return render(joke, jokeData{Topic: topic})
}

// WeatherMessage returns the motivational-message prompt for the joined lookup results.
func WeatherMessage(geo models.GeoLocationResponse, weather models.WeatherResponse) (string, error) {
	return render(weatherMessage, weatherMessageData{
		Address:       geo.Address,
		Temperature:   formatNumber(weather.Temperature),
		WindSpeed:     formatNumber(weather.WindSpeed),
		WeatherSymbol: weather.WeatherSymbol,
	})
}

func render(t *template.Template, data any) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", t.Name(), err)
	}
	return b.String(), nil
}

// formatNumber prints floats the way a person would read them: 5 stays "5.0", 3.25 stays "3.25".
func formatNumber(v float64) string {
	s := fmt.Sprintf("%g", v)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}
