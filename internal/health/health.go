// Package health implements spec §6's health endpoint: GET /healthz
// returning {status, checks{supervisor, orchestrator, run_supervisor},
// run_counts{active, queued, completed_today}}, HTTP 200 when every
// check passes, 503 otherwise. Grounded on the teacher's
// internal/gateway/server.go handleHealth, generalized from its fixed
// {"status":"ok","protocol":N} body to the spec's multi-check shape.
package health

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Check reports whether one subsystem is currently healthy.
type Check func() bool

// Counts reports the run supervisor's live admission counters.
type Counts struct {
	Active         int
	Queued         int
}

// CompletedToday counts terminal runs since the last UTC midnight
// rollover; RecordCompletion and Value both reset the count to zero
// when the UTC day has changed.
type CompletedToday struct {
	mu       sync.Mutex
	count    int
	resetDay int // day-of-year at last reset, to detect UTC midnight rollover
}

// RecordCompletion increments today's completed-run counter, rolling
// it over to zero if UTC midnight has passed since the last call.
func (c *CompletedToday) RecordCompletion() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rolloverLocked()
	c.count++
}

// Value returns today's completed-run count, rolling over first if needed.
func (c *CompletedToday) Value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rolloverLocked()
	return c.count
}

func (c *CompletedToday) rolloverLocked() {
	day := time.Now().UTC().YearDay()
	if day != c.resetDay {
		c.count = 0
		c.resetDay = day
	}
}

// Reporter supplies the live data the /healthz handler renders.
type Reporter struct {
	Supervisor  Check // process-wide liveness (e.g. scheduler accepting jobs)
	Orchestrator Check
	RunSupervisor Check // run-registry under its max_children cap

	Counts func() Counts
	Completed *CompletedToday
}

type response struct {
	Status string         `json:"status"`
	Checks map[string]bool `json:"checks"`
	RunCounts runCounts    `json:"run_counts"`
}

type runCounts struct {
	Active        int `json:"active"`
	Queued        int `json:"queued"`
	CompletedToday int `json:"completed_today"`
}

// Handler builds the http.Handler for GET /healthz.
func (r *Reporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		checks := map[string]bool{
			"supervisor":    runCheck(r.Supervisor),
			"orchestrator":  runCheck(r.Orchestrator),
			"run_supervisor": runCheck(r.RunSupervisor),
		}

		ok := true
		for _, v := range checks {
			if !v {
				ok = false
				break
			}
		}

		var counts Counts
		if r.Counts != nil {
			counts = r.Counts()
		}
		completedToday := 0
		if r.Completed != nil {
			completedToday = r.Completed.Value()
		}

		status := "ok"
		code := http.StatusOK
		if !ok {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}

		body := response{
			Status: status,
			Checks: checks,
			RunCounts: runCounts{
				Active:         counts.Active,
				Queued:         counts.Queued,
				CompletedToday: completedToday,
			},
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(body)
	})
}

func runCheck(c Check) bool {
	if c == nil {
		return true
	}
	return c()
}
