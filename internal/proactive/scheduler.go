// Package proactive pushes cron-scheduled messages to fixed recipients
// outside of any dialog turn.
package proactive

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/relaycore/internal/bus"
	"github.com/nextlevelbuilder/relaycore/internal/config"
)

// Sender enqueues an action on a push channel, implemented by dispatch.Front.
type Sender interface {
	SendNow(recipientID string, action bus.OutgoingAction, delay time.Duration) error
}

// Scheduler fires proactive jobs whose cron schedule is due.
type Scheduler struct {
	sender Sender
	gron   *gronx.Gronx
	now    func() time.Time

	mu       sync.Mutex
	jobs     []config.ProactiveJob
	lastTick time.Time
}

// New validates jobs and creates a scheduler.
func New(jobs []config.ProactiveJob, sender Sender) (*Scheduler, error) {
	s := &Scheduler{
		sender: sender,
		gron:   gronx.New(),
		now:    time.Now,
	}
	if err := s.SetJobs(jobs); err != nil {
		return nil, err
	}
	return s, nil
}

// SetJobs replaces the job list. Nothing is replaced if any job is invalid.
func (s *Scheduler) SetJobs(jobs []config.ProactiveJob) error {
	for i, j := range jobs {
		if !s.gron.IsValid(j.Schedule) {
			return fmt.Errorf("proactive job %d (%s): invalid schedule %q", i, j.Name, j.Schedule)
		}
		if j.Channel == "" || j.Recipient == "" || j.Text == "" {
			return fmt.Errorf("proactive job %d (%s): channel, recipient and text are required", i, j.Name)
		}
	}
	s.mu.Lock()
	s.jobs = append([]config.ProactiveJob(nil), jobs...)
	s.mu.Unlock()
	return nil
}

// Len returns the number of configured jobs.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Tick fires every job due at t (minute resolution). A minute is fired at most once.
func (s *Scheduler) Tick(t time.Time) int {
	minute := t.Truncate(time.Minute)

	s.mu.Lock()
	if !minute.After(s.lastTick) {
		s.mu.Unlock()
		return 0
	}
	s.lastTick = minute
	jobs := s.jobs
	s.mu.Unlock()

	fired := 0
	for _, j := range jobs {
		due, err := s.gron.IsDue(j.Schedule, minute)
		if err != nil {
			slog.Warn("proactive: schedule check failed", "job", j.Name, "error", err)
			continue
		}
		if !due {
			continue
		}
		a := bus.NewSentence(j.Channel, j.ApplicationID, j.Recipient, j.Text)
		a.Final = true
		a.Metadata = map[string]string{bus.MetaProactiveJob: j.Name}
		if err := s.sender.SendNow(j.Recipient, a, time.Duration(j.DelayMs)*time.Millisecond); err != nil {
			slog.Error("proactive: send failed", "job", j.Name, "channel", j.Channel, "recipient", j.Recipient, "error", err)
			continue
		}
		slog.Info("proactive: message queued", "job", j.Name, "channel", j.Channel, "recipient", j.Recipient)
		fired++
	}
	return fired
}

// Run ticks at every minute boundary until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.Len() == 0 {
		slog.Debug("proactive: no jobs configured")
	}
	for {
		now := s.now()
		next := now.Truncate(time.Minute).Add(time.Minute)
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			s.Tick(s.now())
		}
	}
}
