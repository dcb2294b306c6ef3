// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sserr defines the stable error kinds shared by all searchsocket
// components. Every externally visible failure carries one of these codes
// plus an HTTP-ish status used by the CLI, the HTTP server and MCP.
package sserr

import (
	"errors"
	"fmt"
)

// Code identifies an error kind. Codes are stable identifiers and part of
// the public surface (JSON logs, HTTP responses, MCP payloads).
type Code string

const (
	CodeInvalidRequest        Code = "INVALID_REQUEST"
	CodeConfigMissing         Code = "CONFIG_MISSING"
	CodeRouteMappingFailed    Code = "ROUTE_MAPPING_FAILED"
	CodeBuildManifestNotFound Code = "BUILD_MANIFEST_NOT_FOUND"
	CodeBuildServerFailed     Code = "BUILD_SERVER_FAILED"
	CodeVectorUnavailable     Code = "VECTOR_BACKEND_UNAVAILABLE"
	CodeEmbeddingFailed       Code = "EMBEDDING_PROVIDER_FAILED"
	CodeRerankFailed          Code = "RERANK_FAILED"
	CodeInternal              Code = "INTERNAL_ERROR"
	CodeCancelled             Code = "CANCELLED"
)

// statusByCode maps each code to its transport status.
var statusByCode = map[Code]int{
	CodeInvalidRequest:        400,
	CodeConfigMissing:         400,
	CodeRouteMappingFailed:    400,
	CodeBuildManifestNotFound: 400,
	CodeBuildServerFailed:     500,
	CodeVectorUnavailable:     503,
	CodeEmbeddingFailed:       502,
	CodeRerankFailed:          502,
	CodeInternal:              500,
	CodeCancelled:             499,
}

// Error is the typed error returned across component boundaries.
type Error struct {
	Code    Code
	Message string
	Status  int
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an Error with the status implied by the code.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Status:  statusByCode[code],
	}
}

// Wrap creates an Error around a cause. A nil cause behaves like New.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Status:  statusByCode[code],
		Cause:   cause,
	}
}

// CodeOf extracts the code from an error chain, defaulting to INTERNAL_ERROR.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if errors.Is(err, nil) {
		return ""
	}
	return CodeInternal
}

// StatusOf extracts the transport status from an error chain.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 500
}

// IsCode reports whether the error chain carries the given code.
func IsCode(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
