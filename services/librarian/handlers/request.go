// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

// MaxMessageBytes is the largest message /respond accepts, in bytes.
const MaxMessageBytes = 4096

// maxBodyBytes bounds the request body read before JSON decoding.
const maxBodyBytes = 64 << 10

var requestValidate *validator.Validate

func init() {
	requestValidate = validator.New()
	_ = requestValidate.RegisterValidation("maxbytes", validateMaxBytes)
	_ = requestValidate.RegisterValidation("notblank", validateNotBlank)
}

// validateMaxBytes checks byte length, not rune count.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageBytes
}

func validateNotBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// RespondRequest is the body of POST /respond.
type RespondRequest struct {
	Message string `json:"message" validate:"required,notblank,maxbytes"`
}

// Validate checks the request against its validate tags.
func (r *RespondRequest) Validate() error {
	return requestValidate.Struct(r)
}

// validationMessage turns a validator error into a short client message.
func validationMessage(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return "invalid request"
	}
	switch verrs[0].Tag() {
	case "required", "notblank":
		return "message must not be empty"
	case "maxbytes":
		return "message is too long"
	default:
		return "invalid request"
	}
}
