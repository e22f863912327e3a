package knowledge

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/supportdesk/internal/apperr"
)

const sampleYAML = `
data:
  - topic: returns
    rule: Items may be returned within 30 days.
  - topic: shipping
    rule: Orders ship within 2 business days.
examples:
  - What is your return policy?
  - "  "
  - How long does shipping take?
messages:
  handoff: An operator will contact you shortly.
`

func TestParseList(t *testing.T) {
	kb, err := Parse([]byte(sampleYAML), 0)
	require.NoError(t, err)

	assert.Equal(t, 2, kb.Len())
	assert.Equal(t, []Entry{
		{Topic: "returns", Rule: "Items may be returned within 30 days."},
		{Topic: "shipping", Rule: "Orders ship within 2 business days."},
	}, kb.Entries())
	assert.Equal(t, []string{"What is your return policy?", "How long does shipping take?"}, kb.Examples())

	msgs := kb.Messages()
	assert.Equal(t, "An operator will contact you shortly.", msgs.Handoff)
	assert.Equal(t, DefaultMessages().Refusal, msgs.Refusal, "unset messages keep defaults")
}

func TestParseMappingKeepsOrder(t *testing.T) {
	src := "data:\n  zeta: last letter\n  alpha: first letter\n  mid: middle\n"
	kb, err := Parse([]byte(src), 0)
	require.NoError(t, err)

	assert.Equal(t, "### zeta\nlast letter\n### alpha\nfirst letter\n### mid\nmiddle\n", kb.Render())
}

func TestParseJSON(t *testing.T) {
	src := `{"data": [{"topic": "hours", "rule": "Open 9-17 JST."}], "examples": ["When are you open?"]}`
	kb, err := Parse([]byte(src), 0)
	require.NoError(t, err)
	assert.Equal(t, "### hours\nOpen 9-17 JST.\n", kb.Render())
}

func TestRenderIsDeterministic(t *testing.T) {
	kb, err := Parse([]byte(sampleYAML), 0)
	require.NoError(t, err)
	first := kb.Render()
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, kb.Render())
	}
	assert.True(t, strings.HasPrefix(first, "### returns\n"))
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		max  int
	}{
		{"empty", "   \n", 0},
		{"malformed", "data: [unclosed", 0},
		{"scalar root", "just text", 0},
		{"no data", "examples:\n  - hi\n", 0},
		{"empty data", "data: []\n", 0},
		{"empty rule", "data:\n  - topic: a\n    rule: ''\n", 0},
		{"empty topic", "data:\n  - topic: ''\n    rule: x\n", 0},
		{"duplicate topic", "data:\n  - topic: a\n    rule: x\n  - topic: a\n    rule: y\n", 0},
		{"nested mapping value", "data:\n  a:\n    b: c\n", 0},
		{"rule too long", "data:\n  - topic: a\n    rule: abcdef\n", 5},
		{"bad examples", "data:\n  a: b\nexamples:\n  k: v\n", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src), tt.max)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperr.ErrConfig), "want config error, got %v", err)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(dir, "absent.yaml"), 0)
		assert.Equal(t, apperr.KindConfig, apperr.KindOf(err))
	})

	t.Run("empty path", func(t *testing.T) {
		_, err := Load("", 0)
		assert.Equal(t, apperr.KindConfig, apperr.KindOf(err))
	})

	t.Run("ok", func(t *testing.T) {
		path := filepath.Join(dir, "kb.yaml")
		require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))
		kb, err := Load(path, 100)
		require.NoError(t, err)
		assert.Equal(t, 2, kb.Len())
	})
}

func TestAccessorsReturnCopies(t *testing.T) {
	kb, err := Parse([]byte(sampleYAML), 0)
	require.NoError(t, err)

	entries := kb.Entries()
	entries[0].Rule = "tampered"
	examples := kb.Examples()
	examples[0] = "tampered"

	assert.NotContains(t, kb.Render(), "tampered")
	assert.Equal(t, "What is your return policy?", kb.Examples()[0])
}
