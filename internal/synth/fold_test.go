package synth

import (
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/relaycore/internal/bus"
)

func sentence(text string, delay time.Duration) bus.OutgoingAction {
	a := bus.NewSentence("assistant", "app", "u1", text)
	a.Delay = delay
	return a
}

func deref(s *string) string {
	if s == nil {
		return "<nil>"
	}
	return *s
}

func TestFold_TwoPiecesWithPause(t *testing.T) {
	got := Fold([]bus.OutgoingAction{sentence("A", 0), sentence("B", 500*time.Millisecond)})
	if got == nil {
		t.Fatal("Fold returned nil")
	}
	if deref(got.DisplayText) != "AB" {
		t.Errorf("DisplayText = %q, want %q", deref(got.DisplayText), "AB")
	}
	ssml := deref(got.SSML)
	if want := `<speak>A<break time="500ms"/>B</speak>`; ssml != want {
		t.Errorf("SSML = %q, want %q", ssml, want)
	}
	if strings.Count(ssml, "<speak>") != 1 || strings.Count(ssml, "</speak>") != 1 {
		t.Errorf("expected exactly one wrapper in %q", ssml)
	}
	if got.TextToSpeech != nil {
		t.Errorf("TextToSpeech should be dropped when markup exists, got %q", *got.TextToSpeech)
	}
}

func TestFold_Cases(t *testing.T) {
	withSSML := func(text, ssml string) bus.OutgoingAction {
		a := sentence(text, 0)
		a.SSML = ssml
		return a
	}
	withDisplay := func(text, display string) bus.OutgoingAction {
		a := sentence(text, 0)
		a.DisplayText = display
		return a
	}

	tests := []struct {
		name        string
		actions     []bus.OutgoingAction
		wantSSML    string
		wantDisplay string
	}{
		{
			name:        "single piece",
			actions:     []bus.OutgoingAction{sentence("Hello", 0)},
			wantSSML:    "<speak>Hello</speak>",
			wantDisplay: "Hello",
		},
		{
			name:        "delay on first piece is ignored",
			actions:     []bus.OutgoingAction{sentence("A", time.Second), sentence("B", 0)},
			wantSSML:    "<speak>AB</speak>",
			wantDisplay: "AB",
		},
		{
			name:        "wrapped markup is not nested",
			actions:     []bus.OutgoingAction{withSSML("A", "<speak>A!</speak>"), withSSML("B", "<SPEAK>B?</SPEAK>")},
			wantSSML:    "<speak>A!B?</speak>",
			wantDisplay: "AB",
		},
		{
			name:        "nested wrapper falls back to text",
			actions:     []bus.OutgoingAction{withSSML("plain", "<speak><speak>x</speak></speak>")},
			wantSSML:    "<speak>plain</speak>",
			wantDisplay: "plain",
		},
		{
			name:        "display text overrides spoken text",
			actions:     []bus.OutgoingAction{withDisplay("one", "1"), sentence("two", 0)},
			wantSSML:    "<speak>onetwo</speak>",
			wantDisplay: "1two",
		},
		{
			name:        "text is escaped in markup",
			actions:     []bus.OutgoingAction{sentence("a < b", 0)},
			wantSSML:    "<speak>a &lt; b</speak>",
			wantDisplay: "a < b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Fold(tt.actions)
			if got == nil {
				t.Fatal("Fold returned nil")
			}
			if deref(got.SSML) != tt.wantSSML {
				t.Errorf("SSML = %q, want %q", deref(got.SSML), tt.wantSSML)
			}
			if deref(got.DisplayText) != tt.wantDisplay {
				t.Errorf("DisplayText = %q, want %q", deref(got.DisplayText), tt.wantDisplay)
			}
		})
	}
}

func TestFold_IgnoresNonSpeakable(t *testing.T) {
	typing := bus.NewSignal("assistant", "app", "u1", bus.ActionTypingOn)
	empty := sentence("", 0)
	if got := Fold([]bus.OutgoingAction{typing, empty}); got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
	if got := Fold(nil); got != nil {
		t.Errorf("expected nil for no actions, got %+v", got)
	}
}

func TestUnwrapSpeak(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"<speak>hi</speak>", "hi", true},
		{"  <Speak>hi</Speak>  ", "hi", true},
		{"hi", "hi", true},
		{"<speak>a<speak>b</speak></speak>", "a<speak>b</speak>", false},
		{"a</speak>", "a</speak>", false},
	}
	for _, tt := range tests {
		got, ok := unwrapSpeak(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("unwrapSpeak(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}
