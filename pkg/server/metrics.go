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

package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the prometheus instruments exposed at /metrics. Each
// server owns its registry so tests can run servers side by side.
type Metrics struct {
	registry *prometheus.Registry

	searchTotal   *prometheus.CounterVec
	searchSeconds prometheus.Histogram
}

// NewMetrics creates and registers the server instruments.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	searchTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "searchsocket_search_requests_total",
		Help: "Search requests by outcome",
	}, []string{"status"})

	searchSeconds := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "searchsocket_search_duration_seconds",
		Help:    "Search request duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	registry.MustRegister(searchTotal, searchSeconds)
	return &Metrics{
		registry:      registry,
		searchTotal:   searchTotal,
		searchSeconds: searchSeconds,
	}
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) observeSearch(status string, seconds float64) {
	m.searchTotal.WithLabelValues(status).Inc()
	m.searchSeconds.Observe(seconds)
}
