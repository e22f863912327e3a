// Package prompt composes the grounded instruction block sent to the language model.
package prompt

import (
	"bytes"
	"strings"
	"text/template"
	"unicode"
	"unicode/utf8"

	"github.com/hrygo/supportdesk/ai/knowledge"
	"github.com/hrygo/supportdesk/internal/apperr"
	"github.com/hrygo/supportdesk/store"
)

const groundedTemplate = `You are a customer support assistant.
Answer ONLY with information found in the Knowledge section below.
Do not guess, do not use outside knowledge, and do not invent policies.
If the Knowledge section does not contain the answer, reply with exactly this sentence and nothing else:
{{.Refusal}}
Reply in the same language as the question.

## Knowledge
{{.Knowledge}}
{{- if .History}}
## Conversation so far
{{.History}}
{{- end}}
## Question
{{.Question}}
`

var groundedTmpl = template.Must(template.New("grounded").Parse(groundedTemplate))

type promptData struct {
	Refusal   string
	Knowledge string
	History   string
	Question  string
}

// Builder renders prompts. The zero value performs no length checks.
type Builder struct {
	MaxQuestionLength int // runes; zero disables
	MaxEntryLength    int // runes; zero disables
	Refusal           string
}

// Build returns the prompt for question, grounded in kb, with history rendered before the
// question. history must be in chronological order.
func (b *Builder) Build(question string, kb *knowledge.Base, history []*store.Turn) (string, error) {
	question = Normalize(question)
	if question == "" {
		return "", apperr.Validation("question is empty")
	}
	if b.MaxQuestionLength > 0 && utf8.RuneCountInString(question) > b.MaxQuestionLength {
		return "", apperr.Validation("question exceeds %d characters", b.MaxQuestionLength)
	}
	if kb == nil || kb.Len() == 0 {
		return "", apperr.Validation("knowledge base is empty")
	}
	if b.MaxEntryLength > 0 {
		for _, e := range kb.Entries() {
			if utf8.RuneCountInString(e.Rule) > b.MaxEntryLength {
				return "", apperr.Validation("knowledge topic %q exceeds %d characters", e.Topic, b.MaxEntryLength)
			}
		}
	}

	var buf bytes.Buffer
	err := groundedTmpl.Execute(&buf, promptData{
		Refusal:   b.Refusal,
		Knowledge: kb.Render(),
		History:   RenderHistory(history),
		Question:  question,
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Normalize strips control characters other than newline and tab, then surrounding
// whitespace. Callers validate and store the normalized question.
func Normalize(question string) string {
	return strings.TrimSpace(sanitize(question, true))
}

// RenderHistory renders turns as "<sender>: <text>" lines. Each turn is flattened to a
// single line so a stored message cannot forge extra speaker lines.
func RenderHistory(history []*store.Turn) string {
	var sb strings.Builder
	for _, t := range history {
		text := sanitize(t.Message, false)
		if text == "" {
			continue
		}
		sb.WriteString(string(t.Sender))
		sb.WriteString(": ")
		sb.WriteString(text)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// sanitize drops control characters. With keepNewlines, '\n' and '\t' survive;
// otherwise runs of whitespace collapse to single spaces.
func sanitize(s string, keepNewlines bool) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			if keepNewlines {
				return r
			}
			return ' '
		case r == '\r':
			if keepNewlines {
				return -1
			}
			return ' '
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, s)
	if !keepNewlines {
		s = strings.Join(strings.Fields(s), " ")
	}
	return s
}
