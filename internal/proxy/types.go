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
	"strconv"
)

const (
	// DefaultUpstreamURL is the DeepSeek chat completions endpoint
	DefaultUpstreamURL = "https://api.deepseek.com/v1/chat/completions"

	// UpstreamModel is the model every request is forwarded with
	UpstreamModel = "deepseek-chat"

	defaultMaxTokens   = 2000
	defaultTemperature = 0.7
)

// InboundRequest is the transport-neutral view of a client request
type InboundRequest struct {
	HTTPMethod string
	Body       string
}

// OutboundResponse is the transport-neutral view of the response sent back to the client
type OutboundResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       string
}

var (
	defaultMaxTokensJSON   = json.RawMessage(strconv.Itoa(defaultMaxTokens))
	defaultTemperatureJSON = json.RawMessage(strconv.FormatFloat(defaultTemperature, 'f', -1, 64))
)

// errNullRequestBody is returned for a body that is the JSON literal null
var errNullRequestBody = errors.New("request body must not be null")

// chatRequestPayload is the body sent by the browser client. Fields are kept
// raw so values are forwarded exactly as the client sent them.
type chatRequestPayload struct {
	APIKey      json.RawMessage `json:"apiKey"`
	Messages    json.RawMessage `json:"messages,omitempty"`
	MaxTokens   json.RawMessage `json:"max_tokens,omitempty"`
	Temperature json.RawMessage `json:"temperature,omitempty"`
}

// parseChatRequest decodes the client body. Malformed JSON and null are errors;
// any other value that is not an object yields an empty payload.
func parseChatRequest(body string) (*chatRequestPayload, error) {
	var value any
	if err := json.Unmarshal([]byte(body), &value); err != nil {
		return nil, err
	}

	payload := &chatRequestPayload{}
	switch value.(type) {
	case nil:
		return nil, errNullRequestBody
	case map[string]any:
		if err := json.Unmarshal([]byte(body), payload); err != nil {
			return nil, err
		}
	}
	return payload, nil
}

// apiKey returns the key as it is rendered in the Authorization header,
// or "" when it is missing, null, false, 0 or empty
func (p *chatRequestPayload) apiKey() string {
	return rawTruthyString(p.APIKey)
}

// upstreamRequestBody is the body sent to DeepSeek
type upstreamRequestBody struct {
	Model       string          `json:"model"`
	Messages    json.RawMessage `json:"messages,omitempty"`
	MaxTokens   json.RawMessage `json:"max_tokens"`
	Temperature json.RawMessage `json:"temperature"`
	Stream      bool            `json:"stream"`
}

func newUpstreamRequestBody(payload *chatRequestPayload) *upstreamRequestBody {
	body := &upstreamRequestBody{
		Model:       UpstreamModel,
		Messages:    payload.Messages,
		MaxTokens:   defaultMaxTokensJSON,
		Temperature: defaultTemperatureJSON,
		Stream:      false,
	}
	// falsy values (null, false, 0, "") fall back to the defaults as well
	if rawTruthyString(payload.MaxTokens) != "" {
		body.MaxTokens = payload.MaxTokens
	}
	if rawTruthyString(payload.Temperature) != "" {
		body.Temperature = payload.Temperature
	}
	return body
}

func rawTruthyString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	return truthyString(v)
}

// errorResponse is the JSON envelope for every error branch
type errorResponse struct {
	Error   string          `json:"error"`
	Message string          `json:"message,omitempty"`
	Stack   string          `json:"stack,omitempty"`
	Details json.RawMessage `json:"details,omitempty"`
}
