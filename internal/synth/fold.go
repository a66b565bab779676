package synth

import (
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/relaycore/internal/bus"
	"github.com/nextlevelbuilder/relaycore/pkg/protocol"
)

const (
	speakOpen  = "<speak>"
	speakClose = "</speak>"
)

// pauseMarker renders an SSML break of the action delay.
func pauseMarker(a bus.OutgoingAction) string {
	return fmt.Sprintf(`<break time="%dms"/>`, a.Delay.Milliseconds())
}

// unwrapSpeak strips one outer <speak> wrapper (case-insensitive).
// ok is false when a wrapper tag remains inside, which callers must not fold.
func unwrapSpeak(s string) (inner string, ok bool) {
	inner = strings.TrimSpace(s)
	lower := strings.ToLower(inner)
	if strings.HasPrefix(lower, speakOpen) && strings.HasSuffix(lower, speakClose) {
		inner = inner[len(speakOpen) : len(inner)-len(speakClose)]
		lower = lower[len(speakOpen) : len(lower)-len(speakClose)]
	}
	if strings.Contains(lower, "<speak") || strings.Contains(lower, speakClose) {
		return inner, false
	}
	return inner, true
}

// markupOf returns the unwrapped markup of one speakable action.
func markupOf(a bus.OutgoingAction) string {
	if a.SSML != "" {
		inner, ok := unwrapSpeak(a.SSML)
		if ok {
			return inner
		}
		slog.Warn("synth: nested speak wrapper in markup, falling back to text", "action", a.ID)
	}
	return html.EscapeString(a.Text)
}

// Fold concatenates speakable actions, in order, into one simple response.
// Non-speakable actions are ignored. Returns nil when nothing is speakable.
//
// The combined markup carries exactly one outer <speak> wrapper; a pause marker
// precedes every non-first piece that has a delay. TextToSpeech is only kept when
// there is no markup; DisplayText defaults to the spoken text of each piece.
func Fold(actions []bus.OutgoingAction) *protocol.SimpleResponse {
	var tts, markup, display strings.Builder
	n := 0
	for _, a := range actions {
		if a.Kind != bus.ActionSentence || !a.HasText() {
			continue
		}
		piece := markupOf(a)
		if n > 0 && a.Delay > 0 && piece != "" {
			piece = pauseMarker(a) + piece
		}
		tts.WriteString(a.Text)
		markup.WriteString(piece)
		if a.DisplayText != "" {
			display.WriteString(a.DisplayText)
		} else {
			display.WriteString(a.Text)
		}
		n++
	}
	if n == 0 {
		return nil
	}

	out := &protocol.SimpleResponse{}
	if m := markup.String(); strings.TrimSpace(m) != "" {
		out.SSML = protocol.StringPtr(speakOpen + m + speakClose)
	} else if t := tts.String(); t != "" {
		out.TextToSpeech = protocol.StringPtr(t)
	}
	if d := display.String(); strings.TrimSpace(d) != "" {
		out.DisplayText = protocol.StringPtr(d)
	}
	return out
}
