package gateway

import (
	"fmt"
	"testing"
)

func TestRateLimiterAllowsWithinLimit(t *testing.T) {
	r := NewRateLimiter(3)
	for i := 0; i < 3; i++ {
		if !r.Allow("10.0.0.1") {
			t.Fatalf("request %d denied", i+1)
		}
	}
	if r.Allow("10.0.0.1") {
		t.Error("request over the limit allowed")
	}
	// Other keys are independent.
	if !r.Allow("10.0.0.2") {
		t.Error("unrelated key denied")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	r := NewRateLimiter(0)
	if r.Enabled() {
		t.Error("zero limit should disable")
	}
	for i := 0; i < 100; i++ {
		if !r.Allow("k") {
			t.Fatal("disabled limiter denied a request")
		}
	}
}

func TestRateLimiterKeyCap(t *testing.T) {
	r := NewRateLimiter(1)
	for i := 0; i < maxTrackedKeys+50; i++ {
		r.Allow(fmt.Sprintf("key-%d", i))
	}
	r.mu.Lock()
	n := len(r.entries)
	r.mu.Unlock()
	if n > maxTrackedKeys {
		t.Errorf("tracked keys = %d, cap is %d", n, maxTrackedKeys)
	}
}
