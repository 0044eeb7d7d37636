// Package scheduler runs the daily registry check for every subscriber.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"bankrupt_bot/internal/bot"
	"bankrupt_bot/internal/ingest"
	"bankrupt_bot/internal/matcher"
	"bankrupt_bot/internal/metrics"
	"bankrupt_bot/internal/model"
)

// ErrCycleRunning is returned by RunCycle while another cycle is in progress.
var ErrCycleRunning = errors.New("notification cycle already running")

// Sender is the interface for sending Telegram messages.
type Sender interface {
	SendMessage(chatID int64, text string) error
}

// Refresher reloads the registry snapshot.
type Refresher interface {
	Refresh(ctx context.Context, force bool) (ingest.Report, error)
}

// Store is the part of storage the scheduler reads directly.
type Store interface {
	ListActiveSubscribers(ctx context.Context) ([]model.Subscriber, error)
	LedgerEmpty(ctx context.Context, chatID int64) (bool, error)
}

// Options controls when and how a cycle runs.
type Options struct {
	Hour        int
	Minute      int
	Location    *time.Location
	Cutoff      time.Time
	Workers     int
	NotifyEmpty bool
	AdminChatID int64
}

// Stats summarizes one cycle.
type Stats struct {
	RunID       string
	Subscribers int
	Notified    int
	Empty       int
	Skipped     int
	Failed      int
}

// Scheduler sends the daily report to every active subscriber.
type Scheduler struct {
	store    Store
	matcher  *matcher.Matcher
	ingester Refresher
	sender   Sender
	metrics  *metrics.Metrics
	opts     Options
	log      *slog.Logger
	now      func() time.Time

	running sync.Mutex
}

// New creates a Scheduler.
func New(store Store, m *matcher.Matcher, in Refresher, sender Sender, mt *metrics.Metrics, opts Options, log *slog.Logger) *Scheduler {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Scheduler{
		store:    store,
		matcher:  m,
		ingester: in,
		sender:   sender,
		metrics:  mt,
		opts:     opts,
		log:      log,
		now:      time.Now,
	}
}

// NextRun returns the first hour:minute wall-clock time in loc strictly after now.
func NextRun(now time.Time, hour, minute int, loc *time.Location) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(now) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, loc)
	}
	return next
}

// Run starts the scheduler loop, blocking until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	var cycles sync.WaitGroup
	defer cycles.Wait()

	for {
		now := s.now()
		next := NextRun(now, s.opts.Hour, s.opts.Minute, s.opts.Location)
		s.log.Info("next scheduled check", "at", next.Format(time.RFC3339))

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			cycles.Add(1)
			go func() {
				defer cycles.Done()
				if _, err := s.RunCycle(ctx); err != nil {
					s.log.Error("scheduled check", "error", err)
				}
			}()
		}
	}
}

// RunCycle refreshes the registry and delivers each active subscriber's new
// filings. Subscribers are processed concurrently; a failure for one does
// not affect the others. If the registry cannot be refreshed the cycle is
// skipped and the admin chat, when configured, is alerted.
func (s *Scheduler) RunCycle(ctx context.Context) (Stats, error) {
	if !s.running.TryLock() {
		s.log.Warn("previous cycle still running, skipping")
		s.metrics.RecordCycle(metrics.ResultSkipped)
		return Stats{}, ErrCycleRunning
	}
	defer s.running.Unlock()

	stats := Stats{RunID: uuid.NewString()}
	log := s.log.With("run_id", stats.RunID)
	start := s.now()
	log.Info("cycle started")

	rep, err := s.ingester.Refresh(ctx, false)
	switch {
	case errors.Is(err, ingest.ErrBusy):
		log.Warn("registry refresh in progress elsewhere, using current snapshot")
	case err != nil:
		s.metrics.RecordCycle(metrics.ResultFailed)
		s.alertAdmin(log, fmt.Sprintf("Scheduled check skipped: %v", err))
		return stats, fmt.Errorf("refresh registry: %w", err)
	default:
		log.Info("registry ready", "records", rep.Records, "unchanged", rep.Unchanged)
	}

	subs, err := s.store.ListActiveSubscribers(ctx)
	if err != nil {
		s.metrics.RecordCycle(metrics.ResultFailed)
		return stats, fmt.Errorf("%w: list subscribers: %w", matcher.ErrStorage, err)
	}
	stats.Subscribers = len(subs)

	var notified, empty, skipped, failed atomic.Int32
	var g errgroup.Group
	g.SetLimit(s.opts.Workers)
	for _, sub := range subs {
		g.Go(func() error {
			switch s.deliver(ctx, log, sub.ChatID) {
			case metrics.ResultOK:
				notified.Add(1)
			case metrics.ResultEmpty:
				empty.Add(1)
			case metrics.ResultSkipped:
				skipped.Add(1)
			default:
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	stats.Notified = int(notified.Load())
	stats.Empty = int(empty.Load())
	stats.Skipped = int(skipped.Load())
	stats.Failed = int(failed.Load())

	s.metrics.RecordCycle(metrics.ResultOK)
	log.Info("cycle finished",
		"subscribers", stats.Subscribers,
		"notified", stats.Notified,
		"empty", stats.Empty,
		"skipped", stats.Skipped,
		"failed", stats.Failed,
		"took", s.now().Sub(start).Round(time.Millisecond),
	)
	return stats, nil
}

// deliver runs the matcher for one subscriber and sends the report. The
// ledger is written before sending, so a failed send is not retried.
func (s *Scheduler) deliver(ctx context.Context, log *slog.Logger, chatID int64) string {
	result := s.deliverOnce(ctx, log, chatID)
	s.metrics.RecordNotification(result)
	return result
}

func (s *Scheduler) deliverOnce(ctx context.Context, log *slog.Logger, chatID int64) string {
	if ctx.Err() != nil {
		return metrics.ResultSkipped
	}

	first, err := s.store.LedgerEmpty(ctx, chatID)
	if err != nil {
		log.Error("read ledger", "chat_id", chatID, "error", err)
		return metrics.ResultFailed
	}

	res, err := s.matcher.ComputeNewMatches(ctx, chatID, s.opts.Cutoff, true)
	if err != nil {
		log.Error("compute matches", "chat_id", chatID, "error", err)
		return metrics.ResultFailed
	}

	result := metrics.ResultOK
	switch res.Reason {
	case matcher.ReasonNoWatchlist:
		return metrics.ResultSkipped
	case matcher.ReasonNoNewMatches:
		if !s.opts.NotifyEmpty {
			return metrics.ResultEmpty
		}
		result = metrics.ResultEmpty
	}

	if err := s.sender.SendMessage(chatID, bot.FormatReport(res, s.opts.Cutoff, first)); err != nil {
		log.Error("send report", "chat_id", chatID, "matches", len(res.Items), "error", err)
		return metrics.ResultFailed
	}
	if len(res.Items) > 0 {
		log.Info("sent report", "chat_id", chatID, "matches", len(res.Items))
	}
	return result
}

func (s *Scheduler) alertAdmin(log *slog.Logger, text string) {
	if s.opts.AdminChatID == 0 {
		return
	}
	if err := s.sender.SendMessage(s.opts.AdminChatID, text); err != nil {
		log.Error("alert admin", "chat_id", s.opts.AdminChatID, "error", err)
	}
}
