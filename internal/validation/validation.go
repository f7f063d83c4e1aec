package validation

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type coordinates struct {
	Latitude  float64 `validate:"gte=-90,lte=90"`
	Longitude float64 `validate:"gte=-180,lte=180"`
}

// ErrTopicEmpty is returned when the joke topic is missing or whitespace-only.
var ErrTopicEmpty = errors.New("topic is required")

// ErrCoordinatesMissing is returned when latitude or longitude is absent.
var ErrCoordinatesMissing = errors.New("latitude and longitude are required")

// ErrCoordinatesInvalid is returned when latitude or longitude is not a finite number.
var ErrCoordinatesInvalid = errors.New("latitude and longitude must be numbers")

// ErrCoordinatesOutOfRange is returned when latitude is outside [-90, 90] or longitude outside [-180, 180].
var ErrCoordinatesOutOfRange = errors.New("coordinates out of range")

// ValidateTopic trims the input and requires it to be non-empty.
// The topic is otherwise passed to the prompt as-is.
func ValidateTopic(input string) (string, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", ErrTopicEmpty
	}
	return s, nil
}

// ParseCoordinates parses query-string latitude and longitude into degrees.
// Returns an error suitable for 400 INVALID_COORDINATES responses.
func ParseCoordinates(latitude, longitude string) (lat, lon float64, err error) {
	latitude = strings.TrimSpace(latitude)
	longitude = strings.TrimSpace(longitude)
	if latitude == "" || longitude == "" {
		return 0, 0, ErrCoordinatesMissing
	}
	lat, err = parseFinite(latitude)
	if err != nil {
		return 0, 0, err
	}
	lon, err = parseFinite(longitude)
	if err != nil {
		return 0, 0, err
	}
	if err := ValidateCoordinates(lat, lon); err != nil {
		return 0, 0, err
	}
	return lat, lon, nil
}

// ValidateCoordinates checks that lat/lon are within WGS84 bounds. The error names the
// first offending field.
func ValidateCoordinates(lat, lon float64) error {
	err := validate.Struct(coordinates{Latitude: lat, Longitude: lon})
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		return fmt.Errorf("%w: %s", ErrCoordinatesOutOfRange, strings.ToLower(fieldErrs[0].Field()))
	}
	return ErrCoordinatesOutOfRange
}

func parseFinite(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, ErrCoordinatesInvalid
	}
	return v, nil
}
