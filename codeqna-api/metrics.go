package main

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	SuccessfulRequests *prometheus.CounterVec
	BadRequests        *prometheus.CounterVec
	ContentCreated     *prometheus.CounterVec
	RatingsCast        *prometheus.CounterVec
	ContentDeleted     *prometheus.CounterVec
}

func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SuccessfulRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "successful_request",
				Help: "Total number of successful (2xx) HTTP requests",
			},
			[]string{"path"},
		),
		BadRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "unsuccessful_request",
				Help: "Total number of unsuccessful (4xx/5xx) HTTP requests",
			},
			[]string{"path"},
		),
		ContentCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "content_created",
				Help: "Total number of channels, messages and replies posted",
			},
			[]string{"kind"},
		),
		RatingsCast: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ratings_cast",
				Help: "Total number of ratings created or changed",
			},
			[]string{"kind", "vote"},
		),
		ContentDeleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "content_deleted",
				Help: "Total number of users, channels, messages and replies removed by admins",
			},
			[]string{"kind"},
		),
	}

	reg.MustRegister(m.SuccessfulRequests)
	reg.MustRegister(m.BadRequests)
	reg.MustRegister(m.ContentCreated)
	reg.MustRegister(m.RatingsCast)
	reg.MustRegister(m.ContentDeleted)

	return m
}
