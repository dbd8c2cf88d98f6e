package audit_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relgraph/relgraph/internal/audit"
)

type fakeMaintainer struct {
	ensureCalls int32
	dropCalls   int32
}

func (f *fakeMaintainer) EnsurePartitions(ctx context.Context, monthsAhead int) ([]string, error) {
	atomic.AddInt32(&f.ensureCalls, 1)
	return []string{"audit_events_y2026m08"}, nil
}

func (f *fakeMaintainer) DropPartitions(ctx context.Context, olderThanMonths int) ([]string, error) {
	atomic.AddInt32(&f.dropCalls, 1)
	return nil, nil
}

func TestScheduler_StartRunsOnRegisteredSchedule(t *testing.T) {
	fm := &fakeMaintainer{}
	var cleanupCalls int32
	s := audit.New(fm,
		audit.WithPartitionsAhead(1),
		audit.WithRetentionMonths(12),
		audit.WithCleanup(func(ctx context.Context) (int, error) {
			atomic.AddInt32(&cleanupCalls, 1)
			return 3, nil
		}),
	)
	require.NoError(t, s.Start())

	// The cron jobs are registered but won't fire within this test's
	// lifetime (@daily/@hourly); this only verifies Start/Stop wire up
	// without error and the scheduler can be stopped cleanly.
	time.Sleep(10 * time.Millisecond)
	<-s.Stop().Done()
}
