package market_test

import (
	"errors"
	"testing"

	validation "github.com/go-ozzo/ozzo-validation"
	market "github.com/goliatone/go-market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePhoneNumber(t *testing.T) {
	tests := []struct {
		name   string
		number string
		region string
		want   string
		ok     bool
	}{
		{"local format", "081234567890", "", "+6281234567890", true},
		{"international", "+62 812-3456-7890", "ID", "+6281234567890", true},
		{"other region", "+1 650 253 0000", "ID", "+16502530000", true},
		{"too short", "12", "ID", "", false},
		{"not a number", "call me", "ID", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := market.NormalizePhoneNumber(tt.number, tt.region)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidatePhoneNumber(t *testing.T) {
	rule := market.ValidatePhoneNumber(market.DefaultPhoneRegion)
	assert.NoError(t, rule(""))
	assert.NoError(t, rule("081234567890"))
	assert.Error(t, rule("12"))
}

func TestValidateStringEquals(t *testing.T) {
	rule := market.ValidateStringEquals("secret1")
	assert.NoError(t, rule("secret1"))
	assert.Error(t, rule("secret2"))
}

func TestFormatValidationErrorToMap(t *testing.T) {
	form := struct {
		Name  string
		Price int64
	}{Name: "", Price: -1}

	err := validation.ValidateStruct(&form,
		validation.Field(&form.Name, validation.Required),
		validation.Field(&form.Price, validation.Min(0)),
	)
	require.Error(t, err)

	fields := market.FormatValidationErrorToMap(err)
	assert.Len(t, fields, 2)
	assert.Contains(t, fields, "Name")
	assert.Contains(t, fields, "Price")

	assert.Empty(t, market.FormatValidationErrorToMap(nil))
	assert.Equal(t, map[string]string{"form": "boom"}, market.FormatValidationErrorToMap(errors.New("boom")))
}
