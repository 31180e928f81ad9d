// Package main generates sample healing metrics for testing Grafana
// dashboards without a live daemon or real healing sessions.
package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Mirrors the daemon's orchestrator metric surface.
var (
	sessionsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "healerd",
		Subsystem: "orchestrator",
		Name:      "sessions_started_total",
		Help:      "Total number of healing sessions accepted",
	})
	sessionsFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "healerd",
		Subsystem: "orchestrator",
		Name:      "sessions_finished_total",
		Help:      "Total number of healing sessions reaching a terminal status",
	}, []string{"status"})
	attemptsRun = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "healerd",
		Subsystem: "orchestrator",
		Name:      "attempts_total",
		Help:      "Total number of healing attempts run",
	})
	bugsFound = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "healerd",
		Subsystem: "orchestrator",
		Name:      "bugs_found_total",
		Help:      "Total number of distinct bugs recorded",
	})
	bugsFixed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "healerd",
		Subsystem: "orchestrator",
		Name:      "bugs_fixed_total",
		Help:      "Total number of bugs marked fixed",
	})
)

func init() {
	prometheus.MustRegister(
		sessionsStarted,
		sessionsFinished,
		attemptsRun,
		bugsFound,
		bugsFixed,
	)
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "9090"
	}

	// Seed enough history for rate() panels to render
	for i := 0; i < 50; i++ {
		simulateSession()
	}

	ctx, cancel := context.WithCancel(context.Background())
	go generateContinuousData(ctx)

	http.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr: ":" + port,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		cancel()
		server.Shutdown(context.Background())
	}()

	fmt.Printf("Sample metrics server running on http://localhost:%s/metrics\n", port)
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println("\nTo use with Prometheus, add this to prometheus.yml:")
	fmt.Printf("  - job_name: 'healerd-test'\n    static_configs:\n      - targets: ['localhost:%s']\n", port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal(err)
	}
}

// simulateSession moves every counter the way one healing session would:
// some attempts, some bugs found, at most that many fixed, one terminal
// status.
func simulateSession() {
	sessionsStarted.Inc()

	attempts := rand.Intn(5) + 1
	found := rand.Intn(5)
	fixed := 0
	if found > 0 {
		fixed = rand.Intn(found + 1)
	}

	for i := 0; i < attempts; i++ {
		attemptsRun.Inc()
	}
	bugsFound.Add(float64(found))
	bugsFixed.Add(float64(fixed))

	status := "completed"
	if rand.Float64() > 0.7 {
		status = "failed"
	}
	sessionsFinished.WithLabelValues(status).Inc()
}

func generateContinuousData(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if rand.Float64() > 0.4 {
				simulateSession()
			}
		}
	}
}
