package validation

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	// Custom validator instance
	validate = validator.New()

	// Regex patterns for validation
	tickerPattern = regexp.MustCompile(`^[A-Z0-9^=.\-]{1,12}$`)
	sourcePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,100}$`)
)

// ValidationError represents a validation error with field and message
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, fmt.Sprintf("%s: %s", err.Field, err.Message))
	}
	return strings.Join(messages, "; ")
}

// Register custom validators
func init() {
	validate.RegisterValidation("ticker", validateTicker)
	validate.RegisterValidation("source", validateSource)
	validate.RegisterValidation("price", validatePrice)
	validate.RegisterValidation("confidence", validateConfidence)
}

// validateTicker validates canonical symbol format
func validateTicker(fl validator.FieldLevel) bool {
	ticker, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	return tickerPattern.MatchString(ticker)
}

// validateSource validates provider name format
func validateSource(fl validator.FieldLevel) bool {
	source, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	return sourcePattern.MatchString(source)
}

// validatePrice validates price is positive and reasonable
func validatePrice(fl validator.FieldLevel) bool {
	price, ok := fl.Field().Interface().(float64)
	if !ok {
		return false
	}
	return price > 0 && price < 10000000
}

// validateConfidence validates a classification confidence score
func validateConfidence(fl validator.FieldLevel) bool {
	c, ok := fl.Field().Interface().(float64)
	if !ok {
		return false
	}
	return c >= 0 && c <= 1
}

// ValidateStruct validates a struct using tags
func ValidateStruct(s interface{}) ValidationErrors {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var errors ValidationErrors
	for _, err := range err.(validator.ValidationErrors) {
		field := err.Field()
		tag := err.Tag()
		value := err.Value()

		errors = append(errors, ValidationError{
			Field:   field,
			Message: getErrorMessage(field, tag),
			Value:   value,
		})
	}

	return errors
}

// getErrorMessage returns a user-friendly error message
func getErrorMessage(field, tag string) string {
	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "ticker":
		return fmt.Sprintf("%s must be a valid symbol (1-12 uppercase ticker characters)", field)
	case "source":
		return fmt.Sprintf("%s must be a valid provider name (1-100 alphanumeric characters)", field)
	case "price":
		return fmt.Sprintf("%s must be a positive price less than 10,000,000", field)
	case "confidence":
		return fmt.Sprintf("%s must be between 0 and 1", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}

// SanitizeString removes null bytes and control characters and trims whitespace.
func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)

	return strings.TrimSpace(s)
}

// SanitizeTimestamp clamps a future timestamp to now. Zero values are left
// alone so callers can detect them.
func SanitizeTimestamp(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	if now := time.Now().UTC(); t.After(now) {
		return now
	}
	return t
}
