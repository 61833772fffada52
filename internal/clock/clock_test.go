package clock

import (
	"testing"
	"time"
)

func TestFixed(t *testing.T) {
	at := time.Date(2025, 3, 10, 9, 0, 0, 0, time.FixedZone("EST", -5*3600))
	c := NewFixed(at)
	if !c.Now().Equal(at) {
		t.Errorf("Now() = %v, want %v", c.Now(), at)
	}
	if c.Now().Location() != time.UTC {
		t.Errorf("expected UTC location, got %v", c.Now().Location())
	}
}

func TestManual(t *testing.T) {
	start := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	c := NewManual(start)

	c.Advance(181 * time.Second)
	if got := c.Now().Sub(start); got != 181*time.Second {
		t.Errorf("after Advance elapsed = %v, want 181s", got)
	}

	c.Set(start)
	if !c.Now().Equal(start) {
		t.Errorf("after Set Now() = %v, want %v", c.Now(), start)
	}
}
