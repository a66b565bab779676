package sessions

import (
	"testing"

	"github.com/nextlevelbuilder/relaycore/internal/bus"
)

func TestBuildAndParseUserKey(t *testing.T) {
	tests := []struct {
		name    string
		channel string
		app     string
		user    string
		want    string
	}{
		{"assistant", "assistant", "travel-bot", "ABwppHHd8z", "assistant:travel-bot:ABwppHHd8z"},
		{"messenger", "messenger", "page-1234", "2290384729", "messenger:page-1234:2290384729"},
		{"user id with colon", "messenger", "p", "a:b", "messenger:p:a:b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildUserKey(tt.channel, tt.app, tt.user)
			if got != tt.want {
				t.Fatalf("BuildUserKey() = %q, want %q", got, tt.want)
			}
			ch, app, user, ok := ParseUserKey(got)
			if !ok {
				t.Fatalf("ParseUserKey(%q) not ok", got)
			}
			if ch != tt.channel || app != tt.app || user != tt.user {
				t.Errorf("ParseUserKey(%q) = (%q, %q, %q)", got, ch, app, user)
			}
		})
	}
}

func TestParseUserKey_Invalid(t *testing.T) {
	for _, key := range []string{"", "assistant", "assistant:app", ":app:user", "assistant:app:"} {
		if _, _, _, ok := ParseUserKey(key); ok {
			t.Errorf("ParseUserKey(%q) should fail", key)
		}
	}
}

func TestKeysForEventAndAction(t *testing.T) {
	ev := bus.InboundEvent{Channel: "messenger", ApplicationID: "page", SenderID: "42"}
	reply := bus.ReplyTo(ev, "hi")
	if UserKeyFor(ev) != RecipientKeyFor(reply) {
		t.Errorf("reply key %q should match sender key %q", RecipientKeyFor(reply), UserKeyFor(ev))
	}
}
