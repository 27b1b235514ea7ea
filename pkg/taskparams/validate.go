package taskparams

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fulmenhq/gofulmen/schema"

	schemasassets "github.com/3leaps/golivy/internal/assets/schemas"
)

var (
	// ErrSchemaNotFound indicates an embedded schema is missing.
	ErrSchemaNotFound = errors.New("task params schema not found")

	// ErrValidationFailed indicates the document failed schema validation.
	ErrValidationFailed = errors.New("task params validation failed")
)

// ValidationError is a single schema violation.
type ValidationError struct {
	// Path is the JSON pointer to the offending value (e.g. "/livy/port").
	Path    string
	Message string
}

func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "validation failed with %d errors:\n", len(e))
	for i, err := range e {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("  - ")
		b.WriteString(err.Error())
	}
	return b.String()
}

func (e ValidationErrors) Unwrap() error {
	return ErrValidationFailed
}

type compiled struct {
	once sync.Once
	v    *schema.Validator
	err  error
}

var (
	paramsValidator  compiled
	secretsValidator compiled
)

func (c *compiled) get(name string, src []byte) (*schema.Validator, error) {
	c.once.Do(func() {
		if len(src) == 0 {
			c.err = fmt.Errorf("%w: embedded %s schema is empty", ErrSchemaNotFound, name)
			return
		}
		c.v, c.err = schema.NewValidator(src)
		if c.err != nil {
			c.err = fmt.Errorf("failed to compile %s schema: %w", name, c.err)
		}
	})
	return c.v, c.err
}

// ValidateParams checks raw JSON against the task-params schema.
func ValidateParams(jsonData []byte) error {
	v, err := paramsValidator.get("task-params", schemasassets.TaskParamsSchema)
	if err != nil {
		return err
	}
	return validate(v, jsonData)
}

// ValidateSecrets checks raw JSON against the secrets schema.
func ValidateSecrets(jsonData []byte) error {
	v, err := secretsValidator.get("secrets", schemasassets.SecretsSchema)
	if err != nil {
		return err
	}
	return validate(v, jsonData)
}

func validate(v *schema.Validator, jsonData []byte) error {
	diags, err := v.ValidateJSON(jsonData)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	var errs ValidationErrors
	for _, d := range diags {
		if d.Severity == schema.SeverityError {
			errs = append(errs, ValidationError{Path: d.Pointer, Message: d.Message})
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}
