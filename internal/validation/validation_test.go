package validation

import (
	"errors"
	"math"
	"testing"
)

func TestValidateStationName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{"plain", "Zurich", "Zurich", nil},
		{"trimmed", "  Bern / Zollikofen ", "Bern / Zollikofen", nil},
		{"unicode", "Zürich-Fluntern", "Zürich-Fluntern", nil},
		{"punctuation", "St. Gallen (SG), CH", "St. Gallen (SG), CH", nil},
		{"empty", "", "", ErrNameEmpty},
		{"whitespace only", "   \t", "", ErrNameEmpty},
		{"control char", "Ba\x00sel", "", ErrNameInvalidChars},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateStationName(tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ValidateStationName(%q) error = %v, want %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ValidateStationName(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestValidateCoordinate(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
		wantErr  error
	}{
		{"origin", 0, 0, nil},
		{"bounds", -90, 180, nil},
		{"typical", 55.3992, 3.8103, nil},
		{"lat too high", 90.0001, 0, ErrLatitudeOutOfRange},
		{"lat too low", -91, 0, ErrLatitudeOutOfRange},
		{"lon too high", 0, 180.5, ErrLongitudeOutOfRange},
		{"lon too low", 0, -181, ErrLongitudeOutOfRange},
		{"lat NaN", math.NaN(), 0, ErrLatitudeOutOfRange},
		{"lon Inf", 0, math.Inf(1), ErrLongitudeOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateCoordinate(tt.lat, tt.lon); !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateCoordinate(%v, %v) = %v, want %v", tt.lat, tt.lon, err, tt.wantErr)
			}
		})
	}
}
