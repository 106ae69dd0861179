// Package health reports liveness and basic process statistics.
package health

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Report is served by the health endpoint.
type Report struct {
	Status     string  `json:"status"`
	Uptime     string  `json:"uptime"`
	Goroutines int     `json:"goroutines"`
	RSSBytes   uint64  `json:"rssBytes,omitempty"`
	CPUPercent float64 `json:"cpuPercent,omitempty"`
	Sessions   int64   `json:"sessions"`
}

// Checker samples the current process.
type Checker struct {
	started time.Time
	proc    *process.Process
}

// NewChecker returns a Checker for this process. Process stats are omitted
// from reports if the platform does not expose them.
func NewChecker() *Checker {
	c := &Checker{started: time.Now()}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		c.proc = p
	}
	return c
}

// Check builds a report. sessions is the caller's current session count.
func (c *Checker) Check(ctx context.Context, sessions int64) Report {
	r := Report{
		Status:     "ok",
		Uptime:     time.Since(c.started).Round(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
		Sessions:   sessions,
	}
	if c.proc == nil {
		return r
	}
	if mem, err := c.proc.MemoryInfoWithContext(ctx); err == nil {
		r.RSSBytes = mem.RSS
	}
	if pct, err := c.proc.CPUPercentWithContext(ctx); err == nil {
		r.CPUPercent = pct
	}
	return r
}
