package validation

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/kjstillabower/risk-signal-service/internal/models"
)

// ErrPlaceEmpty is returned when a place query is empty or whitespace-only after trim.
var ErrPlaceEmpty = errors.New("place is required")

// ErrPlaceTooShort is returned when a place query length is below the minimum.
var ErrPlaceTooShort = errors.New("place too short")

// ErrPlaceTooLong is returned when a place query length exceeds the maximum.
var ErrPlaceTooLong = errors.New("place too long")

// ErrPlaceInvalidChars is returned when a place query contains disallowed characters.
var ErrPlaceInvalidChars = errors.New("place contains invalid characters")

// ErrCoordinateInvalid is returned when lat or lon is missing or not a finite number.
var ErrCoordinateInvalid = errors.New("lat and lon must be decimal degrees")

// ErrCoordinateOutOfRange is returned when lat is outside [-90,90] or lon outside [-180,180].
var ErrCoordinateOutOfRange = errors.New("coordinate out of range")

// ValidatePlace trims the input, enforces length bounds (minLen, maxLen in runes),
// and restricts to allowed characters: letters (Unicode), digits, space, comma,
// hyphen, period and the Japanese middle dot. Returns the trimmed string or an
// error suitable for 400 INVALID_PLACE responses.
func ValidatePlace(input string, minLen, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	n := len(r)
	if n == 0 {
		return "", ErrPlaceEmpty
	}
	if minLen > 0 && n < minLen {
		return "", ErrPlaceTooShort
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrPlaceTooLong
	}
	for _, c := range r {
		if !isAllowedPlaceRune(c) {
			return "", ErrPlaceInvalidChars
		}
	}
	return s, nil
}

func isAllowedPlaceRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', '　', ',', '-', '.', '・', '－':
		return true
	}
	return false
}

// ParseCoordinate parses decimal-degree query values into a Coordinate.
func ParseCoordinate(lat, lon string) (models.Coordinate, error) {
	la, err := parseDegrees(lat)
	if err != nil {
		return models.Coordinate{}, err
	}
	lo, err := parseDegrees(lon)
	if err != nil {
		return models.Coordinate{}, err
	}
	if la < -90 || la > 90 || lo < -180 || lo > 180 {
		return models.Coordinate{}, ErrCoordinateOutOfRange
	}
	return models.Coordinate{Lat: la, Lon: lo}, nil
}

func parseDegrees(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, ErrCoordinateInvalid
	}
	return v, nil
}
