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

package mock

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
)

// DefaultCompletion is returned when no response body is configured
const DefaultCompletion = `{"id":"chatcmpl-1","object":"chat.completion","model":"deepseek-chat","choices":[{"index":0,"message":{"role":"assistant","content":"Hello!"},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`

// ChatCompletionHandler is a DeepSeek chat completions mock handler
type ChatCompletionHandler struct {
	// StatusCode defaults to 200
	StatusCode int
	// ResponseBody is written verbatim. Defaults to DefaultCompletion.
	ResponseBody string

	RequestCount         atomic.Int32
	CompletionRequests   []map[string]any
	AuthorizationHeaders []string
	RequestIDHeaders     []string
	ContentTypeHeaders   []string
	mu                   sync.Mutex
}

func (cc *ChatCompletionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cc.RequestCount.Add(1)

	defer r.Body.Close() //nolint:all
	b, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(err.Error())) //nolint:all
		return
	}

	var completionRequest map[string]any
	if err := json.Unmarshal(b, &completionRequest); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"invalid request body"}}`)) //nolint:all
		return
	}

	cc.mu.Lock()
	cc.CompletionRequests = append(cc.CompletionRequests, completionRequest)
	cc.AuthorizationHeaders = append(cc.AuthorizationHeaders, r.Header.Get("Authorization"))
	cc.RequestIDHeaders = append(cc.RequestIDHeaders, r.Header.Get("x-request-id"))
	cc.ContentTypeHeaders = append(cc.ContentTypeHeaders, r.Header.Get("Content-Type"))
	cc.mu.Unlock()

	code := cc.StatusCode
	if code == 0 {
		code = http.StatusOK
	}
	body := cc.ResponseBody
	if body == "" {
		body = DefaultCompletion
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write([]byte(body)) //nolint:all
}

// LastRequest returns the most recent decoded request body, or nil
func (cc *ChatCompletionHandler) LastRequest() map[string]any {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if len(cc.CompletionRequests) == 0 {
		return nil
	}
	return cc.CompletionRequests[len(cc.CompletionRequests)-1]
}
