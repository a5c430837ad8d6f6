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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"k8s.io/klog/v2"
)

// PromptCounter estimates the prompt size of a request for diagnostics
type PromptCounter interface {
	CountMessages(messages json.RawMessage, model string) (int, error)
}

// Options configures a Handler
type Options struct {
	// UpstreamURL is the chat completions endpoint. Defaults to DefaultUpstreamURL.
	UpstreamURL string

	// Client is used for upstream calls. Defaults to a client without timeout.
	Client *http.Client

	// Development includes stack traces in internal error responses
	Development bool

	// Metrics is optional
	Metrics *Metrics

	// Counter is optional
	Counter PromptCounter
}

// Handler forwards chat completion requests to DeepSeek.
// It holds no per-request state and is safe for concurrent use.
type Handler struct {
	upstreamURL string
	client      *http.Client
	development bool
	metrics     *Metrics
	counter     PromptCounter
}

// NewHandler creates a new Handler
func NewHandler(opts Options) *Handler {
	h := &Handler{
		upstreamURL: opts.UpstreamURL,
		client:      opts.Client,
		development: opts.Development,
		metrics:     opts.Metrics,
		counter:     opts.Counter,
	}
	if h.upstreamURL == "" {
		h.upstreamURL = DefaultUpstreamURL
	}
	if h.client == nil {
		h.client = &http.Client{}
	}
	return h
}

func (h *Handler) loggerFrom(ctx context.Context) logr.Logger {
	return klog.FromContext(ctx)
}

// Handle processes a single request. Every failure is converted into a response.
func (h *Handler) Handle(ctx context.Context, req InboundRequest) (resp OutboundResponse) {
	requestID := uuid.NewString()
	logger := h.loggerFrom(ctx).WithName("deepseek-proxy").WithValues("requestID", requestID)
	ctx = klog.NewContext(ctx, logger)

	var outcome string
	defer func() {
		if r := recover(); r != nil {
			err := newInternalError(panicError(r))
			logger.Error(err, "panic while handling request", "stack", string(err.stack))
			resp, outcome = errorInternal(err, h.development), outcomeInternalError
		}
		h.metrics.observeRequest(outcome, resp.StatusCode)
	}()

	resp, outcome = h.handle(ctx, req, requestID)
	return resp
}

func (h *Handler) handle(ctx context.Context, req InboundRequest, requestID string) (OutboundResponse, string) {
	logger := h.loggerFrom(ctx)

	if req.HTTPMethod == http.MethodOptions {
		logger.V(5).Info("answering preflight request")
		return preflightResponse(), outcomePreflight
	}

	if req.HTTPMethod != http.MethodPost {
		logger.V(2).Info("rejecting request", "method", req.HTTPMethod)
		return errorMethodNotAllowed(), outcomeMethodNotAllowed
	}

	payload, err := parseChatRequest(req.Body)
	if err != nil {
		ierr := newInternalError(err)
		logger.Error(err, "failed to parse request body")
		return errorInternal(ierr, h.development), outcomeInternalError
	}

	apiKey := payload.apiKey()
	if apiKey == "" {
		return errorAPIKeyRequired(), outcomeValidationError
	}

	body := newUpstreamRequestBody(payload)
	h.logPromptSize(ctx, body)

	logger.Info("sending request to DeepSeek API", "url", h.upstreamURL,
		"maxTokens", string(body.MaxTokens), "temperature", string(body.Temperature))

	start := time.Now()
	upstream, err := h.callUpstream(ctx, apiKey, requestID, body)
	h.metrics.observeUpstream(time.Since(start))
	if err != nil {
		outcome := outcomeInternalError
		if errors.Is(err, ErrInvalidUpstreamResponse) {
			outcome = outcomeUpstreamProtocolError
		}
		ierr := newInternalError(err)
		logger.Error(err, "error in deepseek proxy handler")
		return errorInternal(ierr, h.development), outcome
	}

	if !upstream.ok() {
		resp := errorUpstream(upstream.statusCode, upstream.body)
		logger.Error(fmt.Errorf("upstream returned status %d", upstream.statusCode),
			"DeepSeek API error", "code", upstream.statusCode, "message", upstreamErrorMessage(upstream.body))
		return resp, outcomeUpstreamError
	}

	logger.Info("DeepSeek API request successful", "duration", time.Since(start))
	return rawJSONResponse(http.StatusOK, upstream.body), outcomeSuccess
}

func (h *Handler) logPromptSize(ctx context.Context, body *upstreamRequestBody) {
	if h.counter == nil {
		return
	}
	logger := h.loggerFrom(ctx)

	tokens, err := h.counter.CountMessages(body.Messages, body.Model)
	if err != nil {
		logger.V(2).Info("failed to estimate prompt tokens", "error", err.Error())
		return
	}
	logger.V(2).Info("estimated prompt size", "promptTokens", tokens)
}
