package bus

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Reserved choice parameters.
const (
	ChoiceTitleParam          = "_title"
	ChoiceURLParam            = "_url"
	ChoiceImageParam          = "_image"
	ChoiceStepParam           = "_step"
	ChoicePreviousIntentParam = "_previous_intent"
	ChoiceExitIntent          = "_exit"
)

// Choice is a user selection (button click, postback, quick reply).
type Choice struct {
	Intent     string            `json:"intent"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// Title returns the display title carried by the choice, if any.
func (c Choice) Title() string { return c.Parameters[ChoiceTitleParam] }

// EncodeChoiceID serializes a choice into a payload id: intent?k=v&k2=v2.
// Parameters are sorted by key so equal choices encode identically.
func EncodeChoiceID(c Choice) string {
	if len(c.Parameters) == 0 {
		return url.QueryEscape(c.Intent)
	}
	keys := make([]string, 0, len(c.Parameters))
	for k := range c.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(url.QueryEscape(c.Intent))
	b.WriteByte('?')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(c.Parameters[k]))
	}
	return b.String()
}

// DecodeChoiceID parses a payload id produced by EncodeChoiceID.
func DecodeChoiceID(id string) (Choice, error) {
	if id == "" {
		return Choice{}, fmt.Errorf("empty choice id")
	}
	intentPart, query, hasQuery := strings.Cut(id, "?")
	intent, err := url.QueryUnescape(intentPart)
	if err != nil {
		return Choice{}, fmt.Errorf("decode choice intent: %w", err)
	}
	c := Choice{Intent: intent}
	if !hasQuery || query == "" {
		return c, nil
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		return Choice{}, fmt.Errorf("decode choice parameters: %w", err)
	}
	c.Parameters = make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			c.Parameters[k] = v[0]
		}
	}
	return c, nil
}
