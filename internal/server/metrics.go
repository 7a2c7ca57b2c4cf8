package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	generationRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskmaster_generation_requests_total",
		Help: "Generation requests by provider, operation and outcome.",
	}, []string{"provider", "operation", "outcome"})

	providerResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskmaster_provider_resolutions_total",
		Help: "Provider resolution attempts by outcome.",
	}, []string{"outcome"})

	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskmaster_cache_lookups_total",
		Help: "Response cache lookups by result.",
	}, []string{"result"})
)
