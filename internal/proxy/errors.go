/*
Copyright 2025 IBM.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
)

// ErrInvalidUpstreamResponse is returned when DeepSeek replies with a body that is not JSON
var ErrInvalidUpstreamResponse = errors.New("Invalid response from DeepSeek API") //nolint:staticcheck

const (
	outcomePreflight             = "preflight"
	outcomeMethodNotAllowed      = "method_not_allowed"
	outcomeValidationError       = "validation_error"
	outcomeUpstreamError         = "upstream_error"
	outcomeUpstreamProtocolError = "upstream_protocol_error"
	outcomeInternalError         = "internal_error"
	outcomeSuccess               = "success"
)

// internalError carries the stack captured where the failure was converted
type internalError struct {
	err   error
	stack []byte
}

func (e *internalError) Error() string { return e.err.Error() }

func (e *internalError) Unwrap() error { return e.err }

func newInternalError(err error) *internalError {
	return &internalError{err: err, stack: debug.Stack()}
}

// panicError turns a recovered value into an error
func panicError(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", r)
}

func errorMethodNotAllowed() OutboundResponse {
	return jsonResponse(http.StatusMethodNotAllowed, &errorResponse{Error: "Method not allowed"})
}

func errorAPIKeyRequired() OutboundResponse {
	return jsonResponse(http.StatusBadRequest, &errorResponse{Error: "API key is required"})
}

func errorUpstream(statusCode int, details json.RawMessage) OutboundResponse {
	return jsonResponse(statusCode, &errorResponse{
		Error:   "DeepSeek API Error: " + upstreamErrorMessage(details),
		Details: details,
	})
}

// errorInternal maps any failure to a 500. The stack is only exposed in development.
func errorInternal(err *internalError, development bool) OutboundResponse {
	resp := &errorResponse{
		Error:   "Internal server error",
		Message: err.Error(),
	}
	if development {
		resp.Stack = err.Error() + "\n" + string(err.stack)
	}
	return jsonResponse(http.StatusInternalServerError, resp)
}

// upstreamErrorMessage extracts error.message, then error, from an upstream error body
func upstreamErrorMessage(body json.RawMessage) string {
	const unknown = "Unknown API error"

	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Error) == 0 {
		return unknown
	}

	var detail struct {
		Message any `json:"message"`
	}
	if err := json.Unmarshal(envelope.Error, &detail); err == nil {
		if msg := truthyString(detail.Message); msg != "" {
			return msg
		}
	}

	var value any
	if err := json.Unmarshal(envelope.Error, &value); err != nil {
		return unknown
	}
	if msg := truthyString(value); msg != "" {
		return msg
	}
	return unknown
}

// truthyString renders a decoded JSON value, returning "" for null, false, 0 and "".
// Objects and arrays are rendered as compact JSON.
func truthyString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if !t {
			return ""
		}
		return "true"
	case float64:
		if t == 0 {
			return ""
		}
		return fmt.Sprint(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
