package utils

import "github.com/go-playground/validator/v10"

var validate = validator.New()

// ValidateStruct runs the struct's validate tags outside of gin, so model
// constructors called from seed commands or tests get the same input
// checks as HTTP handlers.
func ValidateStruct(s interface{}) error {
	return validate.Struct(s)
}
