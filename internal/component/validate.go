package component

import (
	"regexp"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate

	portPattern = regexp.MustCompile(`^[a-z0-9_-]+$`)
)

// validatorInstance configures and returns the shared validator used for
// component configuration structs.
func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())

		_ = v.RegisterValidation("port", func(fl validator.FieldLevel) bool {
			return portPattern.MatchString(fl.Field().String())
		})

		validateInst = v
	})

	return validateInst
}
