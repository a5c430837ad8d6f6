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
	"fmt"
	"io"
	"net/http"
)

// ServeHTTP adapts the handler to net/http
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close() //nolint:all

	b, err := io.ReadAll(r.Body)
	if err != nil {
		ierr := newInternalError(fmt.Errorf("failed to read request body: %w", err))
		h.loggerFrom(r.Context()).Error(err, "failed to read request body")
		resp := errorInternal(ierr, h.development)
		h.metrics.observeRequest(outcomeInternalError, resp.StatusCode)
		writeResponse(w, resp)
		return
	}

	resp := h.Handle(r.Context(), InboundRequest{
		HTTPMethod: r.Method,
		Body:       string(b),
	})
	writeResponse(w, resp)
}

func writeResponse(w http.ResponseWriter, resp OutboundResponse) {
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(resp.StatusCode)
	w.Write([]byte(resp.Body)) //nolint:all
}
