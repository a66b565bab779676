package store

import (
	"context"
	"time"
)

// MaxRecentIntents bounds DialogState.RecentIntents.
const MaxRecentIntents = 10

// DialogState is the per-user state loaded before and saved after each admitted turn.
type DialogState struct {
	UserKey       string            `json:"userKey"`
	Channel       string            `json:"channel"`
	ApplicationID string            `json:"applicationId"`
	UserID        string            `json:"userId"`
	Locale        string            `json:"locale,omitempty"`
	CurrentIntent string            `json:"currentIntent,omitempty"`
	RecentIntents []string          `json:"recentIntents,omitempty"` // newest last
	Vars          map[string]string `json:"vars,omitempty"`
	TurnCount     int               `json:"turnCount"`
	Created       time.Time         `json:"created"`
	Updated       time.Time         `json:"updated"`
}

// NewDialogState returns an empty state for key.
func NewDialogState(key, channel, applicationID, userID string) *DialogState {
	now := time.Now()
	return &DialogState{
		UserKey:       key,
		Channel:       channel,
		ApplicationID: applicationID,
		UserID:        userID,
		Vars:          map[string]string{},
		Created:       now,
		Updated:       now,
	}
}

// PushIntent records intent as the current one and appends it to the bounded history.
func (s *DialogState) PushIntent(intent string) {
	if intent == "" {
		return
	}
	s.CurrentIntent = intent
	s.RecentIntents = append(s.RecentIntents, intent)
	if n := len(s.RecentIntents); n > MaxRecentIntents {
		s.RecentIntents = append([]string(nil), s.RecentIntents[n-MaxRecentIntents:]...)
	}
}

// Clone returns a deep copy.
func (s *DialogState) Clone() *DialogState {
	if s == nil {
		return nil
	}
	c := *s
	c.RecentIntents = append([]string(nil), s.RecentIntents...)
	c.Vars = make(map[string]string, len(s.Vars))
	for k, v := range s.Vars {
		c.Vars[k] = v
	}
	return &c
}

// DialogStore persists dialog state. Load and Save are called once per admitted
// turn while the user's turn lock is held.
type DialogStore interface {
	// Load returns the state for key, or (nil, nil) when none was saved yet.
	Load(ctx context.Context, key string) (*DialogState, error)
	Save(ctx context.Context, st *DialogState) error
	Delete(ctx context.Context, key string) error
	Close() error
}
