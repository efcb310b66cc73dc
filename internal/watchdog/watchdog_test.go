package watchdog

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

var _ Watchdog = Nop{}
var _ Watchdog = (*Fake)(nil)
var _ Watchdog = (*Device)(nil)

func TestFake(t *testing.T) {
	f := &Fake{}
	for i := 0; i < 3; i++ {
		if err := f.Keepalive(); err != nil {
			t.Fatalf("Keepalive: %v", err)
		}
	}
	if f.Feeds() != 3 {
		t.Errorf("Feeds: got %d, want 3", f.Feeds())
	}

	f.Err = errors.New("busy")
	if err := f.Keepalive(); err == nil {
		t.Error("expected injected error")
	}
	if f.Feeds() != 3 {
		t.Error("failed keepalive must not count")
	}

	f.Close()
	if !f.Closed() {
		t.Error("expected closed")
	}
}

func TestOpenMissingDevice(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "watchdog"), time.Second)
	if err == nil {
		t.Fatal("expected error opening a missing device")
	}
}
