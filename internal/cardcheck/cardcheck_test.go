package cardcheck

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidateNumber(t *testing.T) {
	tests := []struct {
		name    string
		number  string
		wantErr bool
	}{
		{name: "valid visa", number: "4111111111111111"},
		{name: "valid with spaces", number: "4111 1111 1111 1111"},
		{name: "valid with dashes", number: "4111-1111-1111-1111"},
		{name: "valid amex", number: "378282246310005"},
		{name: "luhn failure", number: "4111111111111112", wantErr: true},
		{name: "too short", number: "411111111111", wantErr: true},
		{name: "too long", number: "41111111111111111111", wantErr: true},
		{name: "letters", number: "4111abcd11111111", wantErr: true},
		{name: "empty", number: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateNumber(tt.number)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidateCVV(t *testing.T) {
	require.NoError(t, ValidateCVV("123"))
	require.NoError(t, ValidateCVV("1234"))
	require.Error(t, ValidateCVV("12"))
	require.Error(t, ValidateCVV("12345"))
	require.Error(t, ValidateCVV("12a"))
	require.Error(t, ValidateCVV(""))
}

func TestValidateExpiry(t *testing.T) {
	at := time.Date(2026, time.June, 15, 12, 0, 0, 0, time.UTC)

	// Current month stays valid through its last instant.
	require.NoError(t, ValidateExpiry(6, 2026, at))
	require.NoError(t, ValidateExpiry(7, 2026, at))
	require.Error(t, ValidateExpiry(5, 2026, at))

	// Two-digit years are 20xx.
	require.NoError(t, ValidateExpiry(12, 30, at))
	require.Error(t, ValidateExpiry(1, 20, at))

	require.Error(t, ValidateExpiry(0, 2030, at))
	require.Error(t, ValidateExpiry(13, 2030, at))
}

func TestLastFour(t *testing.T) {
	require.Equal(t, "1111", LastFour("4111 1111 1111 1111"))
	require.Equal(t, "123", LastFour("123"))
}
