package health

import (
	"context"
	"runtime"
	"testing"
)

func TestChecker_Check(t *testing.T) {
	c := NewChecker()

	r := c.Check(context.Background(), 3)

	if r.Status != "ok" {
		t.Errorf("Status = %q, want ok", r.Status)
	}
	if r.Sessions != 3 {
		t.Errorf("Sessions = %d, want 3", r.Sessions)
	}
	if r.Goroutines <= 0 {
		t.Errorf("Goroutines = %d, want > 0", r.Goroutines)
	}
	if r.Uptime == "" {
		t.Error("Uptime should be set")
	}
	if runtime.GOOS == "linux" && r.RSSBytes == 0 {
		t.Error("RSSBytes should be reported on linux")
	}
}
