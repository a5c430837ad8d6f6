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
	"bytes"
	"encoding/json"
	"net/http"
)

const (
	headerContentType        = "Content-Type"
	headerAllowOrigin        = "Access-Control-Allow-Origin"
	headerAllowHeaders       = "Access-Control-Allow-Headers"
	headerAllowMethods       = "Access-Control-Allow-Methods"
	headerAuthorization      = "Authorization"
	headerRequestID          = "x-request-id"
	contentTypeJSON          = "application/json"
	preflightAllowedHeaders  = "Content-Type, Authorization"
	preflightAllowedMethods  = "POST, OPTIONS"
	responseAllowedHeaders   = "Content-Type"
	allowedOriginAnyResource = "*"
)

// corsHeaders returns the headers attached to every JSON response
func corsHeaders() map[string]string {
	return map[string]string{
		headerContentType:  contentTypeJSON,
		headerAllowOrigin:  allowedOriginAnyResource,
		headerAllowHeaders: responseAllowedHeaders,
	}
}

// preflightHeaders returns the headers of the OPTIONS response
func preflightHeaders() map[string]string {
	return map[string]string{
		headerAllowOrigin:  allowedOriginAnyResource,
		headerAllowHeaders: preflightAllowedHeaders,
		headerAllowMethods: preflightAllowedMethods,
	}
}

func preflightResponse() OutboundResponse {
	return OutboundResponse{
		StatusCode: http.StatusOK,
		Headers:    preflightHeaders(),
		Body:       "",
	}
}

// jsonResponse encodes v with the CORS headers. Encoding failures are not expected
// for the envelope types used here and fall back to a fixed 500 body.
func jsonResponse(statusCode int, v any) OutboundResponse {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return OutboundResponse{
			StatusCode: http.StatusInternalServerError,
			Headers:    corsHeaders(),
			Body:       `{"error":"Internal server error"}`,
		}
	}
	return rawJSONResponse(statusCode, bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
}

func rawJSONResponse(statusCode int, body []byte) OutboundResponse {
	return OutboundResponse{
		StatusCode: statusCode,
		Headers:    corsHeaders(),
		Body:       string(body),
	}
}
