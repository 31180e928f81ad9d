package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// sessionsStarted counts sessions accepted by Start.
	sessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "healerd",
		Subsystem: "orchestrator",
		Name:      "sessions_started_total",
		Help:      "Total number of healing sessions accepted",
	})

	// sessionsFinished counts sessions reaching a terminal status.
	// Labels: status (completed, failed)
	sessionsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healerd",
		Subsystem: "orchestrator",
		Name:      "sessions_finished_total",
		Help:      "Total number of healing sessions reaching a terminal status",
	}, []string{"status"})

	// attemptsRun counts test→scan→fix→push iterations.
	attemptsRun = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "healerd",
		Subsystem: "orchestrator",
		Name:      "attempts_total",
		Help:      "Total number of healing attempts run",
	})

	// bugsFoundTotal counts bugs recorded across all sessions.
	bugsFoundTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "healerd",
		Subsystem: "orchestrator",
		Name:      "bugs_found_total",
		Help:      "Total number of distinct bugs recorded",
	})

	// bugsFixedTotal counts successfully applied fixes.
	bugsFixedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "healerd",
		Subsystem: "orchestrator",
		Name:      "bugs_fixed_total",
		Help:      "Total number of bugs marked fixed",
	})
)
