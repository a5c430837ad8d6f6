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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	utilnet "k8s.io/apimachinery/pkg/util/net"
)

// upstreamResponse is a fully read DeepSeek response whose body is known to be JSON
type upstreamResponse struct {
	statusCode int
	body       json.RawMessage
}

func (r *upstreamResponse) ok() bool {
	return r.statusCode >= 200 && r.statusCode < 300
}

// callUpstream sends one chat completion request and waits for the complete body
func (h *Handler) callUpstream(ctx context.Context, apiKey, requestID string, payload *upstreamRequestBody) (*upstreamResponse, error) {
	logger := h.loggerFrom(ctx)

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode upstream request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.upstreamURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream request: %w", err)
	}
	req.Header.Set(headerContentType, contentTypeJSON)
	req.Header.Set(headerAuthorization, "Bearer "+apiKey)
	req.Header.Set(headerRequestID, requestID)

	resp, err := h.client.Do(req)
	if err != nil {
		switch {
		case utilnet.IsConnectionRefused(err):
			logger.Error(err, "upstream refused the connection", "url", h.upstreamURL)
		case utilnet.IsProbableEOF(err):
			logger.Error(err, "upstream closed the connection", "url", h.upstreamURL)
		default:
			logger.Error(err, "upstream request failed", "url", h.upstreamURL)
		}
		return nil, err
	}
	defer resp.Body.Close() //nolint:all

	text, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream response: %w", err)
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, text); err != nil {
		logger.Error(err, "failed to parse upstream response", "code", resp.StatusCode, "body", string(text))
		return nil, ErrInvalidUpstreamResponse
	}

	return &upstreamResponse{
		statusCode: resp.StatusCode,
		body:       compact.Bytes(),
	}, nil
}
