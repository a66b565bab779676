package proactive

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/relaycore/internal/bus"
	"github.com/nextlevelbuilder/relaycore/internal/config"
)

type recordSender struct {
	mu   sync.Mutex
	sent []bus.OutgoingAction
	err  error
}

func (r *recordSender) SendNow(recipientID string, a bus.OutgoingAction, _ time.Duration) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a.RecipientID = recipientID
	r.sent = append(r.sent, a)
	return nil
}

func weekdayMorning() config.ProactiveJob {
	return config.ProactiveJob{
		Name: "morning", Schedule: "0 9 * * 1-5",
		Channel: "messenger", ApplicationID: "page1", Recipient: "u1", Text: "good morning",
	}
}

func TestNew_RejectsInvalidJobs(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*config.ProactiveJob)
	}{
		{"bad schedule", func(j *config.ProactiveJob) { j.Schedule = "every day" }},
		{"no channel", func(j *config.ProactiveJob) { j.Channel = "" }},
		{"no recipient", func(j *config.ProactiveJob) { j.Recipient = "" }},
		{"no text", func(j *config.ProactiveJob) { j.Text = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := weekdayMorning()
			tt.mut(&j)
			_, err := New([]config.ProactiveJob{j}, &recordSender{})
			assert.Error(t, err)
		})
	}
}

func TestTick_FiresDueJobsOncePerMinute(t *testing.T) {
	rec := &recordSender{}
	s, err := New([]config.ProactiveJob{weekdayMorning()}, rec)
	require.NoError(t, err)

	monday9 := time.Date(2026, 10, 19, 9, 0, 12, 0, time.UTC)
	assert.Equal(t, 1, s.Tick(monday9))
	assert.Equal(t, 0, s.Tick(monday9.Add(30*time.Second)), "same minute fires once")
	assert.Equal(t, 0, s.Tick(monday9.Add(time.Minute)), "09:01 is not due")

	saturday9 := time.Date(2026, 10, 24, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, 0, s.Tick(saturday9))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.sent, 1)
	a := rec.sent[0]
	assert.Equal(t, "good morning", a.Text)
	assert.Equal(t, "u1", a.RecipientID)
	assert.Equal(t, "page1", a.ApplicationID)
	assert.True(t, a.Final)
	assert.Equal(t, "morning", a.Metadata["proactive_job"])
}

func TestTick_SendFailureIsNotCounted(t *testing.T) {
	s, err := New([]config.ProactiveJob{weekdayMorning()}, &recordSender{err: errors.New("no queue")})
	require.NoError(t, err)
	assert.Equal(t, 0, s.Tick(time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)))
}

func TestSetJobs_KeepsOldJobsOnError(t *testing.T) {
	s, err := New([]config.ProactiveJob{weekdayMorning()}, &recordSender{})
	require.NoError(t, err)
	bad := weekdayMorning()
	bad.Schedule = "nope"
	assert.Error(t, s.SetJobs([]config.ProactiveJob{bad}))
	assert.Equal(t, 1, s.Len())
}
