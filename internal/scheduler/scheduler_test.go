package scheduler

import (
	"testing"

	"github.com/olegiv/opad-go/internal/bus"
	"github.com/olegiv/opad-go/internal/presence"
	"github.com/olegiv/opad-go/internal/testutil"
)

func TestSchedulerStartStop(t *testing.T) {
	logger := testutil.TestLogger()
	b := bus.NewMemoryBus(logger)
	defer b.Close()

	s := New(presence.NewMemoryRegistry(b, logger), logger)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Stop()
}
