package strategy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/seungdori/hyperrsi-backtest/pkg/backtest"
)

// ValidationError contains details about validation failures
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(msgs, "; "))
}

// ErrInvalidSchema is returned when the schema version is not supported
var ErrInvalidSchema = errors.New("invalid or unsupported schema version")

// ErrMissingRequiredField is returned when a required field is missing
var ErrMissingRequiredField = errors.New("missing required field")

// SupportedSchemaVersions lists all supported schema versions
var SupportedSchemaVersions = []string{"1.0"}

// Validate performs comprehensive validation on a strategy configuration:
// metadata, then the HYPERRSI parameter set itself via
// NewHyperrsiStrategy's own validation. Returns nil if valid.
func (s *StrategyConfig) Validate() error {
	var errs ValidationErrors

	if err := s.validateMetadata(); err != nil {
		errs = append(errs, err...)
	}

	if _, err := NewHyperrsiStrategy(s.Parameters); err != nil {
		var perr *backtest.ParameterError
		if errors.As(err, &perr) {
			errs = append(errs, ValidationError{Field: "parameters." + perr.Field, Message: perr.Msg})
		} else {
			errs = append(errs, ValidationError{Field: "parameters", Message: err.Error()})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (s *StrategyConfig) validateMetadata() ValidationErrors {
	var errs ValidationErrors

	if s.Metadata.SchemaVersion == "" {
		errs = append(errs, ValidationError{
			Field:   "metadata.schema_version",
			Message: "schema version is required",
		})
	} else if !isVersionSupported(s.Metadata.SchemaVersion) {
		errs = append(errs, ValidationError{
			Field:   "metadata.schema_version",
			Message: fmt.Sprintf("unsupported schema version %s, supported: %v", s.Metadata.SchemaVersion, SupportedSchemaVersions),
		})
	}

	if s.Metadata.Name == "" {
		errs = append(errs, ValidationError{
			Field:   "metadata.name",
			Message: "strategy name is required",
		})
	} else if len(s.Metadata.Name) > 100 {
		errs = append(errs, ValidationError{
			Field:   "metadata.name",
			Message: "strategy name must be 100 characters or less",
		})
	}

	if len(s.Metadata.Description) > 2000 {
		errs = append(errs, ValidationError{
			Field:   "metadata.description",
			Message: "description must be 2000 characters or less",
		})
	}

	if len(s.Metadata.Tags) > 20 {
		errs = append(errs, ValidationError{
			Field:   "metadata.tags",
			Message: "maximum 20 tags allowed",
		})
	}
	for i, tag := range s.Metadata.Tags {
		if len(tag) > 50 {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("metadata.tags[%d]", i),
				Message: "tag must be 50 characters or less",
			})
		}
	}

	return errs
}

func isVersionSupported(version string) bool {
	for _, v := range SupportedSchemaVersions {
		if v == version {
			return true
		}
	}
	return false
}

// ValidateQuick performs minimal validation for quick checks
func (s *StrategyConfig) ValidateQuick() error {
	if s.Metadata.SchemaVersion == "" {
		return fmt.Errorf("%w: metadata.schema_version", ErrMissingRequiredField)
	}
	if !isVersionSupported(s.Metadata.SchemaVersion) {
		return ErrInvalidSchema
	}
	if s.Metadata.Name == "" {
		return fmt.Errorf("%w: metadata.name", ErrMissingRequiredField)
	}
	return nil
}
