// Package audit schedules the periodic maintenance spec.md's audit sink and
// expiration manager require: keeping partitions ahead of need, dropping
// ones past their retention window, and sweeping expired tuples. Grounded
// in robfig/cron/v3, the same cron package the wider example corpus parses
// schedules with (OperationsPAI-AegisLab's service/common/task.go).
package audit

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// PartitionMaintainer is the subset of Engine the scheduler drives for
// partition lifecycle; Engine satisfies it directly since neither method
// takes a namespace (audit partitions aren't namespace-scoped).
type PartitionMaintainer interface {
	EnsurePartitions(ctx context.Context, monthsAhead int) ([]string, error)
	DropPartitions(ctx context.Context, olderThanMonths int) ([]string, error)
}

// CleanupFunc sweeps expired tuples for one namespace, e.g.
//
//	func(ctx context.Context) (int, error) { return engine.CleanupExpired(ctx, scope) }
//
// Expiration cleanup is namespace-scoped (spec.md's fail-closed tenancy
// model), and there is no store-level "list all namespaces" operation to
// discover them dynamically, so the caller supplies one closure per
// namespace it wants swept.
type CleanupFunc func(ctx context.Context) (int, error)

// Scheduler runs partition and expiration maintenance on a cron schedule.
type Scheduler struct {
	cron            *cron.Cron
	engine          PartitionMaintainer
	cleanups        []CleanupFunc
	partitionsAhead int
	retentionMonths int
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithPartitionsAhead sets how many months of audit partitions to keep
// created ahead of the current month. Default 2.
func WithPartitionsAhead(n int) Option { return func(s *Scheduler) { s.partitionsAhead = n } }

// WithRetentionMonths sets how many months of audit partitions to retain
// before DropPartitions removes them. Default 24.
func WithRetentionMonths(n int) Option { return func(s *Scheduler) { s.retentionMonths = n } }

// WithCleanup registers a namespace's expiration sweep.
func WithCleanup(fn CleanupFunc) Option {
	return func(s *Scheduler) { s.cleanups = append(s.cleanups, fn) }
}

// New builds a Scheduler over engine. Call Start to begin running; Stop to
// halt it.
func New(engine PartitionMaintainer, opts ...Option) *Scheduler {
	s := &Scheduler{
		cron:            cron.New(),
		engine:          engine,
		partitionsAhead: 2,
		retentionMonths: 24,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start registers the maintenance jobs and begins running them in the
// background. Partition maintenance runs once a day; expired-tuple cleanup
// runs hourly, since expirations are expected to be checked far more
// frequently than partitions roll over.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc("@daily", s.runPartitionMaintenance); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("@hourly", s.runExpirationCleanup); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for any in-flight job to finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) runPartitionMaintenance() {
	ctx := context.Background()
	created, err := s.engine.EnsurePartitions(ctx, s.partitionsAhead)
	if err != nil {
		log.Printf("relgraph: audit: ensure_partitions: %v", err)
	} else if len(created) > 0 {
		log.Printf("relgraph: audit: created partitions %v", created)
	}

	dropped, err := s.engine.DropPartitions(ctx, s.retentionMonths)
	if err != nil {
		log.Printf("relgraph: audit: drop_partitions: %v", err)
	} else if len(dropped) > 0 {
		log.Printf("relgraph: audit: dropped partitions %v", dropped)
	}
}

func (s *Scheduler) runExpirationCleanup() {
	ctx := context.Background()
	start := time.Now()
	total := 0
	for _, cleanup := range s.cleanups {
		n, err := cleanup(ctx)
		if err != nil {
			log.Printf("relgraph: audit: cleanup_expired: %v", err)
			continue
		}
		total += n
	}
	if total > 0 {
		log.Printf("relgraph: audit: cleaned up %d expired tuples in %s", total, time.Since(start))
	}
}
