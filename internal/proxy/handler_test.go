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
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"k8s.io/klog/v2/ktesting"

	"github.com/llm-d/deepseek-proxy/test/mock"
)

type fakeCounter struct {
	calls int
}

func (c *fakeCounter) CountMessages(json.RawMessage, string) (int, error) {
	c.calls++
	return 42, nil
}

func decodeBody(resp OutboundResponse) map[string]any {
	var body map[string]any
	ExpectWithOffset(1, json.Unmarshal([]byte(resp.Body), &body)).To(Succeed())
	return body
}

func expectCORSHeaders(resp OutboundResponse) {
	ExpectWithOffset(1, resp.Headers).To(HaveKeyWithValue("Content-Type", "application/json"))
	ExpectWithOffset(1, resp.Headers).To(HaveKeyWithValue("Access-Control-Allow-Origin", "*"))
	ExpectWithOffset(1, resp.Headers).To(HaveKeyWithValue("Access-Control-Allow-Headers", "Content-Type"))
}

var _ = Describe("Handler", func() {

	var (
		ctx             context.Context
		upstreamHandler *mock.ChatCompletionHandler
		upstream        *httptest.Server
		metrics         *Metrics
		handler         *Handler
	)

	post := func(body string) OutboundResponse {
		return handler.Handle(ctx, InboundRequest{HTTPMethod: http.MethodPost, Body: body})
	}

	BeforeEach(func() {
		_, ctx = ktesting.NewTestContext(GinkgoT())

		upstreamHandler = &mock.ChatCompletionHandler{}
		upstream = httptest.NewServer(upstreamHandler)
		DeferCleanup(upstream.Close)

		metrics = NewMetrics(nil)
		handler = NewHandler(Options{
			UpstreamURL: upstream.URL,
			Client:      upstream.Client(),
			Metrics:     metrics,
		})
	})

	DescribeTable("should reject methods other than POST",
		func(method string) {
			resp := handler.Handle(ctx, InboundRequest{HTTPMethod: method, Body: `{"apiKey":"sk-test"}`})

			Expect(resp.StatusCode).To(Equal(http.StatusMethodNotAllowed))
			Expect(resp.Body).To(Equal(`{"error":"Method not allowed"}`))
			expectCORSHeaders(resp)
			Expect(upstreamHandler.RequestCount.Load()).To(BeNumerically("==", 0))
		},
		Entry("when the method is GET", http.MethodGet),
		Entry("when the method is DELETE", http.MethodDelete),
		Entry("when the method is PUT", http.MethodPut),
		Entry("when the method is PATCH", http.MethodPatch),
		Entry("when the method is HEAD", http.MethodHead),
	)

	It("should answer preflight requests", func() {
		resp := handler.Handle(ctx, InboundRequest{HTTPMethod: http.MethodOptions})

		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(resp.Body).To(BeEmpty())
		Expect(resp.Headers).To(Equal(map[string]string{
			"Access-Control-Allow-Origin":  "*",
			"Access-Control-Allow-Headers": "Content-Type, Authorization",
			"Access-Control-Allow-Methods": "POST, OPTIONS",
		}))
		Expect(testutil.ToFloat64(metrics.requests.WithLabelValues(outcomePreflight, "200"))).To(BeNumerically("==", 1))
	})

	DescribeTable("should require an API key",
		func(body string) {
			resp := post(body)

			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(resp.Body).To(Equal(`{"error":"API key is required"}`))
			expectCORSHeaders(resp)
			Expect(upstreamHandler.RequestCount.Load()).To(BeNumerically("==", 0))
		},
		Entry("when apiKey is missing", `{"messages":[{"role":"user","content":"Hello"}]}`),
		Entry("when apiKey is empty", `{"apiKey":"","messages":[]}`),
		Entry("when apiKey is null", `{"apiKey":null}`),
		Entry("when apiKey is false", `{"apiKey":false}`),
		Entry("when apiKey is zero", `{"apiKey":0}`),
		Entry("when the body is an array", `[]`),
		Entry("when the body is a number", `123`),
		Entry("when the body is a string", `"sk-test"`),
		Entry("when the body is a boolean", `true`),
	)

	DescribeTable("should fail with an internal error when the body cannot be decoded",
		func(body string) {
			resp := post(body)

			Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
			expectCORSHeaders(resp)
			b := decodeBody(resp)
			Expect(b).To(HaveKeyWithValue("error", "Internal server error"))
			Expect(b).To(HaveKeyWithValue("message", Not(BeEmpty())))
			Expect(b).ToNot(HaveKey("stack"))
			Expect(upstreamHandler.RequestCount.Load()).To(BeNumerically("==", 0))
		},
		Entry("when the body is empty", ""),
		Entry("when the body is truncated", `{"apiKey": "sk-test"`),
		Entry("when the body is null", `null`),
	)

	When("the upstream call succeeds", func() {

		It("should return the upstream body unchanged", func() {
			resp := post(`{"apiKey":"sk-test","messages":[{"role":"user","content":"Hello"}]}`)

			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Body).To(Equal(mock.DefaultCompletion))
			expectCORSHeaders(resp)
			Expect(testutil.ToFloat64(metrics.requests.WithLabelValues(outcomeSuccess, "200"))).To(BeNumerically("==", 1))
		})

		It("should return 200 for any 2xx upstream status", func() {
			upstreamHandler.StatusCode = http.StatusCreated

			resp := post(`{"apiKey":"sk-test","messages":[]}`)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("should forward the request with the caller key and defaults", func() {
			post(`{"apiKey":"sk-test","messages":[{"role":"system","content":"Fix my grammar"},{"role":"user","content":"I has a apple"}]}`)

			Expect(upstreamHandler.RequestCount.Load()).To(BeNumerically("==", 1))
			Expect(upstreamHandler.AuthorizationHeaders).To(ConsistOf("Bearer sk-test"))
			Expect(upstreamHandler.ContentTypeHeaders).To(ConsistOf("application/json"))
			Expect(upstreamHandler.RequestIDHeaders).To(ConsistOf(Not(BeEmpty())))

			req := upstreamHandler.LastRequest()
			Expect(req).To(HaveKeyWithValue("model", "deepseek-chat"))
			Expect(req).To(HaveKeyWithValue("stream", false))
			Expect(req).To(HaveKeyWithValue("max_tokens", BeNumerically("==", 2000)))
			Expect(req).To(HaveKeyWithValue("temperature", BeNumerically("~", 0.7)))
			Expect(req).ToNot(HaveKey("apiKey"))
			Expect(req).To(HaveKeyWithValue("messages", ConsistOf(
				map[string]any{"role": "system", "content": "Fix my grammar"},
				map[string]any{"role": "user", "content": "I has a apple"},
			)))
		})

		DescribeTable("should forward max_tokens and temperature",
			func(body string, maxTokens, temperature float64) {
				post(body)

				req := upstreamHandler.LastRequest()
				Expect(req).To(HaveKeyWithValue("max_tokens", BeNumerically("==", maxTokens)))
				Expect(req).To(HaveKeyWithValue("temperature", BeNumerically("~", temperature)))
			},
			Entry("when both are provided", `{"apiKey":"k","messages":[],"max_tokens":500,"temperature":0.2}`, 500.0, 0.2),
			Entry("when only max_tokens is provided", `{"apiKey":"k","messages":[],"max_tokens":500}`, 500.0, 0.7),
			Entry("when only temperature is provided", `{"apiKey":"k","messages":[],"temperature":1.3}`, 2000.0, 1.3),
			Entry("when both are zero", `{"apiKey":"k","messages":[],"max_tokens":0,"temperature":0}`, 2000.0, 0.7),
			Entry("when both are null", `{"apiKey":"k","messages":[],"max_tokens":null,"temperature":null}`, 2000.0, 0.7),
			Entry("when both are empty strings", `{"apiKey":"k","messages":[],"max_tokens":"","temperature":""}`, 2000.0, 0.7),
			Entry("when max_tokens is fractional", `{"apiKey":"k","messages":[],"max_tokens":1.5}`, 1.5, 0.7),
		)

		It("should forward values of unexpected types unchanged", func() {
			resp := post(`{"apiKey":"k","messages":[],"max_tokens":"500","temperature":[1]}`)

			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			req := upstreamHandler.LastRequest()
			Expect(req).To(HaveKeyWithValue("max_tokens", "500"))
			Expect(req).To(HaveKeyWithValue("temperature", ConsistOf(BeNumerically("==", 1))))
		})

		It("should render a non-string API key in the Authorization header", func() {
			post(`{"apiKey":12345,"messages":[]}`)

			Expect(upstreamHandler.AuthorizationHeaders).To(ConsistOf("Bearer 12345"))
		})

		It("should forward null messages", func() {
			post(`{"apiKey":"k","messages":null}`)

			Expect(upstreamHandler.LastRequest()).To(HaveKeyWithValue("messages", BeNil()))
		})

		It("should omit messages when the client sent none", func() {
			post(`{"apiKey":"sk-test"}`)

			Expect(upstreamHandler.LastRequest()).ToNot(HaveKey("messages"))
		})

		It("should log a prompt estimate when a counter is configured", func() {
			counter := &fakeCounter{}
			handler = NewHandler(Options{UpstreamURL: upstream.URL, Counter: counter})

			resp := post(`{"apiKey":"sk-test","messages":[{"role":"user","content":"Hello"}]}`)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(counter.calls).To(Equal(1))
		})
	})

	When("the upstream returns an error status", func() {

		It("should propagate the status and wrap error.message", func() {
			upstreamHandler.StatusCode = http.StatusUnauthorized
			upstreamHandler.ResponseBody = `{"error":{"message":"invalid key"}}`

			resp := post(`{"apiKey":"sk-bad","messages":[]}`)

			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Body).To(Equal(`{"error":"DeepSeek API Error: invalid key","details":{"error":{"message":"invalid key"}}}`))
			expectCORSHeaders(resp)
			Expect(testutil.ToFloat64(metrics.requests.WithLabelValues(outcomeUpstreamError, "401"))).To(BeNumerically("==", 1))
		})

		DescribeTable("should derive the error message",
			func(code int, upstreamBody, expected string) {
				upstreamHandler.StatusCode = code
				upstreamHandler.ResponseBody = upstreamBody

				resp := post(`{"apiKey":"sk-test","messages":[]}`)

				Expect(resp.StatusCode).To(Equal(code))
				b := decodeBody(resp)
				Expect(b).To(HaveKeyWithValue("error", expected))
				Expect(b).To(HaveKey("details"))
			},
			Entry("when error is a string", http.StatusTooManyRequests, `{"error":"rate limited"}`, "DeepSeek API Error: rate limited"),
			Entry("when error.message is empty", http.StatusBadRequest, `{"error":{"message":"","code":"x"}}`, `DeepSeek API Error: {"code":"x","message":""}`),
			Entry("when error is missing", http.StatusBadGateway, `{"status":"down"}`, "DeepSeek API Error: Unknown API error"),
			Entry("when error is null", http.StatusServiceUnavailable, `{"error":null}`, "DeepSeek API Error: Unknown API error"),
			Entry("when the body is an array", http.StatusInternalServerError, `[1,2]`, "DeepSeek API Error: Unknown API error"),
		)

		It("should not escape HTML in the upstream message", func() {
			upstreamHandler.StatusCode = http.StatusBadRequest
			upstreamHandler.ResponseBody = `{"error":{"message":"max_tokens must be <= 8192"}}`

			resp := post(`{"apiKey":"sk-test","messages":[]}`)
			Expect(resp.Body).To(ContainSubstring(`"DeepSeek API Error: max_tokens must be <= 8192"`))
		})
	})

	When("the upstream response is not JSON", func() {

		DescribeTable("should fail with an internal error",
			func(code int, upstreamBody string) {
				upstreamHandler.StatusCode = code
				upstreamHandler.ResponseBody = upstreamBody

				resp := post(`{"apiKey":"sk-test","messages":[]}`)

				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				expectCORSHeaders(resp)
				b := decodeBody(resp)
				Expect(b).To(HaveKeyWithValue("error", "Internal server error"))
				Expect(b).To(HaveKeyWithValue("message", "Invalid response from DeepSeek API"))
				Expect(testutil.ToFloat64(metrics.requests.WithLabelValues(outcomeUpstreamProtocolError, "500"))).To(BeNumerically("==", 1))
			},
			Entry("when a 200 carries HTML", http.StatusOK, "<html>oops</html>"),
			Entry("when a 502 carries HTML", http.StatusBadGateway, "<html>Bad Gateway</html>"),
			Entry("when a 200 carries truncated JSON", http.StatusOK, `{"choices":[`),
		)
	})

	When("the upstream is unreachable", func() {

		It("should fail with an internal error", func() {
			upstream.Close()

			resp := post(`{"apiKey":"sk-test","messages":[]}`)

			Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
			expectCORSHeaders(resp)
			b := decodeBody(resp)
			Expect(b).To(HaveKeyWithValue("error", "Internal server error"))
			Expect(b).To(HaveKeyWithValue("message", Not(BeEmpty())))
			Expect(b).ToNot(HaveKey("stack"))
			Expect(testutil.ToFloat64(metrics.requests.WithLabelValues(outcomeInternalError, "500"))).To(BeNumerically("==", 1))
		})

		It("should include the stack trace in development", func() {
			upstream.Close()
			handler = NewHandler(Options{UpstreamURL: upstream.URL, Development: true})

			resp := post(`{"apiKey":"sk-test","messages":[]}`)

			Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
			b := decodeBody(resp)
			Expect(b).To(HaveKeyWithValue("stack", ContainSubstring("goroutine")))
		})
	})

	It("should convert a panic into an internal error", func() {
		handler = NewHandler(Options{UpstreamURL: "http://upstream.invalid", Client: &http.Client{Transport: panicTransport{}}})

		resp := post(`{"apiKey":"sk-test","messages":[]}`)

		Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
		expectCORSHeaders(resp)
		b := decodeBody(resp)
		Expect(b).To(HaveKeyWithValue("message", "panic: boom"))
	})
})

type panicTransport struct{}

func (panicTransport) RoundTrip(*http.Request) (*http.Response, error) {
	panic("boom")
}
