// Package cardcheck validates raw card fields before any remote call is made.
// A card is considered valid through the last instant of its expiry month.
package cardcheck

import (
	"fmt"
	"strings"
	"time"
)

// NormalizeNumber strips spaces and dashes from a card number.
func NormalizeNumber(number string) string {
	number = strings.ReplaceAll(number, " ", "")
	return strings.ReplaceAll(number, "-", "")
}

// IsDigits reports whether s is non-empty and contains only ASCII digits.
func IsDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// ValidateNumber checks the normalized card number: digits only, 13..19 long,
// and Luhn-valid.
func ValidateNumber(number string) error {
	n := NormalizeNumber(number)
	if !IsDigits(n) {
		return fmt.Errorf("card number must contain only digits")
	}
	if len(n) < 13 || len(n) > 19 {
		return fmt.Errorf("card number must be 13 to 19 digits")
	}
	if !luhnValid(n) {
		return fmt.Errorf("card number failed check digit validation")
	}
	return nil
}

// ValidateCVV accepts 3 or 4 digit verification values.
func ValidateCVV(cvv string) error {
	if !IsDigits(cvv) || len(cvv) < 3 || len(cvv) > 4 {
		return fmt.Errorf("cvv must be 3 or 4 digits")
	}
	return nil
}

// ValidateExpiry checks month range and that the expiry month has not passed
// at time 'at'. The card stays valid through the end of its expiry month.
func ValidateExpiry(month, year int, at time.Time) error {
	if month < 1 || month > 12 {
		return fmt.Errorf("expiry month must be 01..12")
	}
	if year < 100 {
		year += 2000
	}
	end := endOfMonth(year, time.Month(month), at.Location())
	if at.After(end) {
		return fmt.Errorf("card is expired")
	}
	return nil
}

// endOfMonth returns the last instant of the given month in loc.
func endOfMonth(year int, month time.Month, loc *time.Location) time.Time {
	firstNext := time.Date(year, month, 1, 0, 0, 0, 0, loc).AddDate(0, 1, 0)
	return firstNext.Add(-time.Nanosecond)
}

func luhnValid(number string) bool {
	sum, dbl := 0, false
	for i := len(number) - 1; i >= 0; i-- {
		d := int(number[i] - '0')
		if dbl {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		dbl = !dbl
	}
	return sum%10 == 0
}

// LastFour returns the masked suffix of a normalized card number.
func LastFour(number string) string {
	n := NormalizeNumber(number)
	if len(n) < 4 {
		return n
	}
	return n[len(n)-4:]
}
