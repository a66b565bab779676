package synth

import "github.com/nextlevelbuilder/relaycore/pkg/protocol"

func firstNonNil[T any](a, b *T) *T {
	if a != nil {
		return a
	}
	return b
}

// MergeCards merges two cards field by field: a's set fields win,
// buttons are taken from b only when a has none.
func MergeCards(a, b protocol.BasicCard) protocol.BasicCard {
	out := protocol.BasicCard{
		Title:         firstNonNil(a.Title, b.Title),
		Subtitle:      firstNonNil(a.Subtitle, b.Subtitle),
		FormattedText: firstNonNil(a.FormattedText, b.FormattedText),
		Image:         firstNonNil(a.Image, b.Image),
	}
	if len(a.Buttons) > 0 {
		out.Buttons = append([]protocol.Button(nil), a.Buttons...)
	} else {
		out.Buttons = append([]protocol.Button(nil), b.Buttons...)
	}
	return out
}

// MergeItems keeps the first (lead) item and folds the rest left to right:
// two cards merge into one card, otherwise the left operand is kept.
func MergeItems(items []protocol.Item) []protocol.Item {
	if len(items) < 2 {
		return append([]protocol.Item(nil), items...)
	}
	acc := items[1]
	for _, b := range items[2:] {
		if acc.BasicCard != nil && b.BasicCard != nil {
			card := MergeCards(*acc.BasicCard, *b.BasicCard)
			acc = protocol.Item{BasicCard: &card}
		}
	}
	return []protocol.Item{items[0], acc}
}

// MergeRich merges two rich responses: items via MergeItems, suggestions
// concatenated, the first link-out suggestion wins.
func MergeRich(a, b protocol.RichResponse) protocol.RichResponse {
	items := make([]protocol.Item, 0, len(a.Items)+len(b.Items))
	items = append(items, a.Items...)
	items = append(items, b.Items...)

	var suggestions []protocol.Suggestion
	if n := len(a.Suggestions) + len(b.Suggestions); n > 0 {
		suggestions = make([]protocol.Suggestion, 0, n)
		suggestions = append(suggestions, a.Suggestions...)
		suggestions = append(suggestions, b.Suggestions...)
	}

	return protocol.RichResponse{
		Items:             MergeItems(items),
		Suggestions:       suggestions,
		LinkOutSuggestion: firstNonNil(a.LinkOutSuggestion, b.LinkOutSuggestion),
	}
}

// PrependSimple makes s the lead item of r. A nil s leaves r unchanged.
func PrependSimple(r protocol.RichResponse, s *protocol.SimpleResponse) protocol.RichResponse {
	if s == nil {
		return r
	}
	items := make([]protocol.Item, 0, len(r.Items)+1)
	items = append(items, protocol.Item{SimpleResponse: s})
	items = append(items, r.Items...)
	r.Items = items
	return r
}

// MergeExpectedInputs merges two continuation prompts; possible intents are
// deduplicated by intent name, first occurrence wins.
func MergeExpectedInputs(a, b protocol.ExpectedInput) protocol.ExpectedInput {
	return protocol.ExpectedInput{
		InputPrompt: protocol.InputPrompt{
			RichInitialPrompt: MergeRich(a.InputPrompt.RichInitialPrompt, b.InputPrompt.RichInitialPrompt),
		},
		PossibleIntents: dedupeIntents(a.PossibleIntents, b.PossibleIntents),
	}
}

func dedupeIntents(lists ...[]protocol.ExpectedIntent) []protocol.ExpectedIntent {
	seen := make(map[string]bool)
	var out []protocol.ExpectedIntent
	for _, l := range lists {
		for _, it := range l {
			if seen[it.Intent] {
				continue
			}
			seen[it.Intent] = true
			out = append(out, it)
		}
	}
	return out
}

// EnsureTextIntent prepends the free-text intent when no possible intent accepts raw text.
func EnsureTextIntent(e protocol.ExpectedInput) protocol.ExpectedInput {
	for _, it := range e.PossibleIntents {
		if it.Intent == protocol.IntentText {
			return e
		}
	}
	intents := make([]protocol.ExpectedIntent, 0, len(e.PossibleIntents)+1)
	intents = append(intents, protocol.ExpectedIntent{Intent: protocol.IntentText})
	intents = append(intents, e.PossibleIntents...)
	e.PossibleIntents = intents
	return e
}
