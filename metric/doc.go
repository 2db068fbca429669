// Package metric provides Prometheus-based metrics collection for RelayKit
// monitoring and observability.
//
// The package offers a centralized metrics registry managing both core
// platform metrics (query/mutation throughput, pending mutations, cache
// population and relocations) and custom component-specific metrics, plus an
// HTTP handler exposing metrics in Prometheus format.
//
// # Basic Usage
//
//	registry := metric.NewMetricsRegistry()
//	mux.Handle("/metrics", metric.Handler(registry))
//
// Components register their own metrics through the MetricsRegistrar
// interface; duplicate registrations are rejected with an invalid error so a
// misconfigured component fails loudly at startup rather than silently
// shadowing another component's series.
package metric
