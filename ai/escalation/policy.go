// Package escalation decides when an exchange is handed off to a human operator.
package escalation

import (
	"strings"

	"github.com/hrygo/supportdesk/ai/answer"
)

// Reason explains why an exchange was escalated.
type Reason string

const (
	ReasonNone      Reason = ""
	ReasonRequested Reason = "requested"
	ReasonRefused   Reason = "refused"
)

// Decision is the final text to deliver and whether a human must take over.
type Decision struct {
	Text      string
	Escalated bool
	Reason    Reason
}

// Policy is pure: Decide depends only on its arguments and the policy fields.
type Policy struct {
	HandoffPhrase  string
	HandoffMessage string
	Refusal        string
}

// Decide escalates when the user typed the handoff phrase (trimmed, case-insensitive)
// or when the answer is a refusal. Unavailable answers are passed through so the user
// is asked to retry rather than queued for an operator.
func (p Policy) Decide(userText string, a answer.Answer) Decision {
	if p.HandoffPhrase != "" && strings.EqualFold(strings.TrimSpace(userText), strings.TrimSpace(p.HandoffPhrase)) {
		return Decision{Text: p.HandoffMessage, Escalated: true, Reason: ReasonRequested}
	}
	if a.Kind == answer.KindRefused || (p.Refusal != "" && strings.Contains(a.Text, p.Refusal)) {
		return Decision{Text: p.HandoffMessage, Escalated: true, Reason: ReasonRefused}
	}
	return Decision{Text: a.Text}
}
