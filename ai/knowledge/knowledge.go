// Package knowledge loads the operator-supplied knowledge base that grounds every answer.
//
// A Base is immutable after loading and safe for concurrent use without locking.
package knowledge

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/hrygo/supportdesk/internal/apperr"
)

// Entry is one topic and the rule text the assistant may answer from.
type Entry struct {
	Topic string `yaml:"topic" json:"topic"`
	Rule  string `yaml:"rule" json:"rule"`
}

// Base is the ordered topic table plus UI example questions.
type Base struct {
	entries  []Entry
	examples []string
	messages Messages
}

// Load reads a knowledge file. YAML and JSON are both accepted since JSON is valid YAML.
// maxEntryLength limits each rule in runes; zero disables the check.
func Load(path string, maxEntryLength int) (*Base, error) {
	if path == "" {
		return nil, apperr.Config("knowledge file path is empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.WrapConfig(err, "read knowledge file %s", filepath.Base(path))
	}
	return Parse(data, maxEntryLength)
}

// Parse builds a Base from YAML or JSON bytes.
func Parse(data []byte, maxEntryLength int) (*Base, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, apperr.Config("knowledge file is empty")
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, apperr.WrapConfig(err, "malformed knowledge file")
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, apperr.Config("knowledge file must be a mapping with a data section")
	}
	root := doc.Content[0]

	dataNode := lookup(root, "data")
	if dataNode == nil {
		return nil, apperr.Config("knowledge file has no data section")
	}
	entries, err := decodeEntries(dataNode)
	if err != nil {
		return nil, err
	}

	var examples []string
	if n := lookup(root, "examples"); n != nil {
		if err := n.Decode(&examples); err != nil {
			return nil, apperr.WrapConfig(err, "examples must be a list of strings")
		}
	}

	var overrides Messages
	if n := lookup(root, "messages"); n != nil {
		if err := n.Decode(&overrides); err != nil {
			return nil, apperr.WrapConfig(err, "malformed messages section")
		}
	}

	return New(entries, examples, DefaultMessages().Merge(overrides), maxEntryLength)
}

// New validates and builds a Base. The slices are copied.
func New(entries []Entry, examples []string, messages Messages, maxEntryLength int) (*Base, error) {
	if len(entries) == 0 {
		return nil, apperr.Config("knowledge base has no entries")
	}

	seen := make(map[string]struct{}, len(entries))
	b := &Base{
		entries:  make([]Entry, 0, len(entries)),
		messages: messages,
	}
	for i, e := range entries {
		topic := strings.TrimSpace(e.Topic)
		rule := strings.TrimSpace(e.Rule)
		if topic == "" || rule == "" {
			return nil, apperr.Config("knowledge entry %d has an empty topic or rule", i+1)
		}
		if _, dup := seen[topic]; dup {
			return nil, apperr.Config("duplicate knowledge topic %q", topic)
		}
		if maxEntryLength > 0 && utf8.RuneCountInString(rule) > maxEntryLength {
			return nil, apperr.Config("knowledge topic %q exceeds %d characters", topic, maxEntryLength)
		}
		seen[topic] = struct{}{}
		b.entries = append(b.entries, Entry{Topic: topic, Rule: rule})
	}

	for _, q := range examples {
		if q = strings.TrimSpace(q); q != "" {
			b.examples = append(b.examples, q)
		}
	}
	return b, nil
}

// Render returns "### <topic>\n<rule>\n" for every entry in insertion order.
func (b *Base) Render() string {
	var sb strings.Builder
	for _, e := range b.entries {
		sb.WriteString("### ")
		sb.WriteString(e.Topic)
		sb.WriteByte('\n')
		sb.WriteString(e.Rule)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Entries returns a copy of the entries in insertion order.
func (b *Base) Entries() []Entry {
	out := make([]Entry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Examples returns a copy of the example questions.
func (b *Base) Examples() []string {
	out := make([]string, len(b.examples))
	copy(out, b.examples)
	return out
}

func (b *Base) Len() int {
	return len(b.entries)
}

func (b *Base) Messages() Messages {
	return b.messages
}

func lookup(mapping *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}

// decodeEntries accepts either a list of {topic, rule} objects or a topic: rule mapping.
// Mapping order is taken from the node so insertion order survives.
func decodeEntries(n *yaml.Node) ([]Entry, error) {
	switch n.Kind {
	case yaml.SequenceNode:
		var entries []Entry
		if err := n.Decode(&entries); err != nil {
			return nil, apperr.WrapConfig(err, "malformed data section")
		}
		return entries, nil
	case yaml.MappingNode:
		entries := make([]Entry, 0, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			k, v := n.Content[i], n.Content[i+1]
			if v.Kind != yaml.ScalarNode {
				return nil, apperr.Config("knowledge topic %q must map to text", k.Value)
			}
			entries = append(entries, Entry{Topic: k.Value, Rule: v.Value})
		}
		return entries, nil
	default:
		return nil, apperr.Config("data section must be a list or a mapping")
	}
}
