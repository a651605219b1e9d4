// MoonUnit Gateway
// Copyright (c) 2026 The MoonUnit Gateway Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of MoonUnit Gateway.
//
// MoonUnit Gateway is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// MoonUnit Gateway is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with MoonUnit Gateway.  If not, see <http://www.gnu.org/licenses/>.

// Package validation checks API request bodies using go-playground/validator
// with custom validators for device commands.
package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// MaxCommandLength bounds a single command line sent to a device.
const MaxCommandLength = 256

var (
	ErrMissingBody = errors.New("missing body")
	ErrInvalidBody = errors.New("invalid body")
)

type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonName)
	_ = v.RegisterValidation("command", validateCommand)
	return &Validator{validate: v}
}

// DefaultValidator is a shared validator instance for API use.
var DefaultValidator = NewValidator()

// Validate validates a struct and returns a formatted error if validation fails.
func (v *Validator) Validate(params any) error {
	if err := v.validate.Struct(params); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return newError(validationErrors)
		}
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ValidateAndUnmarshal decodes a JSON body into dest and validates it.
// Returns ErrMissingBody for an empty body, ErrInvalidBody if it is not
// JSON for T, or an *Error if validation fails.
func ValidateAndUnmarshal[T any](body []byte, dest *T) error {
	if len(strings.TrimSpace(string(body))) == 0 {
		return ErrMissingBody
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return ErrInvalidBody
	}
	return DefaultValidator.Validate(dest)
}

// jsonName reports fields by their JSON key so messages match the request.
func jsonName(fld reflect.StructField) string {
	name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	return name
}

// validateCommand accepts a non-blank line of printable ASCII. Surrounding
// whitespace is allowed because mock devices echo it back verbatim.
func validateCommand(fl validator.FieldLevel) bool {
	val := fl.Field().String()
	if strings.TrimSpace(val) == "" || len(val) > MaxCommandLength {
		return false
	}
	for _, r := range val {
		switch {
		case r == ' ' || r == '\t' || r == '\r' || r == '\n':
		case r < 0x20 || r > 0x7e:
			return false
		}
	}
	return true
}
