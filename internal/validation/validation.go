package validation

import (
	"errors"
	"math"
	"strings"
	"unicode"
)

// ErrNameEmpty is returned when a station name is empty or whitespace-only after trim.
var ErrNameEmpty = errors.New("station name is required")

// ErrNameInvalidChars is returned when a station name contains control characters.
var ErrNameInvalidChars = errors.New("station name contains invalid characters")

// ErrLatitudeOutOfRange is returned when latitude is outside [-90, 90] or not finite.
var ErrLatitudeOutOfRange = errors.New("latitude out of range")

// ErrLongitudeOutOfRange is returned when longitude is outside [-180, 180] or not finite.
var ErrLongitudeOutOfRange = errors.New("longitude out of range")

// ValidateStationName trims the input and rejects empty names and names with
// control characters. Returns the trimmed name.
func ValidateStationName(input string) (string, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", ErrNameEmpty
	}
	for _, c := range s {
		if unicode.IsControl(c) {
			return "", ErrNameInvalidChars
		}
	}
	return s, nil
}

// ValidateCoordinate checks that lat/lon are finite decimal degrees within range.
func ValidateCoordinate(lat, lon float64) error {
	if !finite(lat) || lat < -90 || lat > 90 {
		return ErrLatitudeOutOfRange
	}
	if !finite(lon) || lon < -180 || lon > 180 {
		return ErrLongitudeOutOfRange
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
