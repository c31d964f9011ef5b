// Package metrics defines the Prometheus instrumentation for the credential core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CodeExchangesTotal tracks authorization-code exchanges by outcome.
	CodeExchangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oauth_code_exchanges_total",
			Help: "Authorization code exchanges by status",
		},
		[]string{"status"},
	)

	// TokenRefreshesTotal tracks proactive token refreshes by outcome.
	TokenRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oauth_token_refreshes_total",
			Help: "Access token refreshes by status",
		},
		[]string{"status"},
	)

	// LegacyMigrationsTotal tracks plaintext-to-encrypted row migrations.
	// "migrated" and "already_migrated" are both success paths.
	LegacyMigrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_legacy_migrations_total",
			Help: "Legacy plaintext token migrations by outcome",
		},
		[]string{"outcome"},
	)

	// ProviderRequestDuration tracks outbound provider call latency.
	ProviderRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "oauth_provider_request_duration_seconds",
			Help:    "Outbound OAuth provider request duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)
)
