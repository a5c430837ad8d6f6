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
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "deepseek_proxy"

// Metrics holds the Prometheus collectors of the proxy. A nil *Metrics records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	requests        *prometheus.CounterVec
	upstreamLatency prometheus.Histogram
}

// NewMetrics registers the proxy collectors on registry, or on a new registry if nil
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "requests_total",
			Help:      "Requests handled by the proxy, by outcome and response code.",
		}, []string{"outcome", "code"}),
		upstreamLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Duration of DeepSeek API calls, including reading the response body.",
			// LLM latencies, 100ms to 2m
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
	}
	registry.MustRegister(m.requests, m.upstreamLatency)
	return m
}

// Handler exposes the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

func (m *Metrics) observeRequest(outcome string, code int) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome, strconv.Itoa(code)).Inc()
}

func (m *Metrics) observeUpstream(d time.Duration) {
	if m == nil {
		return
	}
	m.upstreamLatency.Observe(d.Seconds())
}
