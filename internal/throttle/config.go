package throttle

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Mode selects the admission algorithm.
type Mode string

const (
	// ModeWindowed admits up to Limit calls per discrete window. Windows reset
	// in jumps, so up to 2*Limit calls can cluster around a window boundary.
	ModeWindowed Mode = "windowed"
	// ModeStrict admits at most Limit calls in any sliding window of length
	// Interval.
	ModeStrict Mode = "strict"
)

// ParseMode converts a config string into a Mode. Empty means windowed.
func ParseMode(value string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(ModeWindowed):
		return ModeWindowed, nil
	case string(ModeStrict):
		return ModeStrict, nil
	default:
		return "", fmt.Errorf("unknown throttle mode %q", value)
	}
}

// Config describes a limiter.
type Config struct {
	Name     string        `validate:"omitempty"`
	Limit    int           `validate:"gt=0"`
	Interval time.Duration `validate:"gt=0"`
	Mode     Mode          `validate:"omitempty,oneof=windowed strict"`
}

// ValidationError reports an invalid limiter configuration.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "invalid throttle config"
	}
	return fmt.Sprintf("invalid throttle config: %s %s", e.Field, e.Message)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks that Limit and Interval are positive and Mode is known.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		switch fe.Tag() {
		case "gt":
			return &ValidationError{Field: strings.ToLower(fe.Field()), Message: "must be a finite positive value"}
		case "oneof":
			return &ValidationError{Field: strings.ToLower(fe.Field()), Message: "must be one of windowed, strict"}
		default:
			return &ValidationError{Field: strings.ToLower(fe.Field()), Message: "is invalid"}
		}
	}
	return &ValidationError{Field: "config", Message: err.Error()}
}
