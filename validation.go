package market

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/nyaruka/phonenumbers"
)

// DefaultPhoneRegion is used to parse numbers written without a country code
const DefaultPhoneRegion = "ID"

// ValidateStringEquals returns a rule checking the value equals str
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value interface{}) error {
		s, _ := value.(string)
		if s != str {
			return errors.New("values do not match")
		}
		return nil
	}
}

// ValidatePhoneNumber returns a rule accepting numbers valid for region
func ValidatePhoneNumber(region string) validation.RuleFunc {
	return func(value interface{}) error {
		s, _ := value.(string)
		if strings.TrimSpace(s) == "" {
			return nil
		}
		if _, err := NormalizePhoneNumber(s, region); err != nil {
			return errors.New("must be a valid phone number")
		}
		return nil
	}
}

// NormalizePhoneNumber parses number and formats it as E.164
func NormalizePhoneNumber(number, region string) (string, error) {
	if region == "" {
		region = DefaultPhoneRegion
	}
	parsed, err := phonenumbers.Parse(strings.TrimSpace(number), region)
	if err != nil {
		return "", err
	}
	if !phonenumbers.IsValidNumber(parsed) {
		return "", fmt.Errorf("invalid phone number %q", number)
	}
	return phonenumbers.Format(parsed, phonenumbers.E164), nil
}

// FormatValidationErrorToMap flattens ozzo validation errors into field messages
func FormatValidationErrorToMap(err error) map[string]string {
	out := map[string]string{}
	if err == nil {
		return out
	}

	var verrs validation.Errors
	if errors.As(err, &verrs) {
		for field, ferr := range verrs {
			if ferr != nil {
				out[field] = ferr.Error()
			}
		}
		return out
	}

	out["form"] = err.Error()
	return out
}

// validationFailed wraps ozzo validation errors in ErrValidation keeping the
// per field messages in the metadata.
func validationFailed(err error) error {
	fields := FormatValidationErrorToMap(err)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	message := "Please correct the highlighted fields."
	if len(keys) > 0 {
		message = fmt.Sprintf("%s: %s", keys[0], fields[keys[0]])
	}

	return NewValidationError(message, map[string]any{"fields": fields})
}

// ValidationFields extracts the per field messages attached by validationFailed
func ValidationFields(err error) map[string]string {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr.Metadata == nil {
		return nil
	}
	fields, _ := richErr.Metadata["fields"].(map[string]string)
	return fields
}
