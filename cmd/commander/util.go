package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/lexcodex/commander/framework"
)

// readSettingsNode loads the settings file as a YAML document. A missing file
// yields the default settings so dotted lookups see every key.
func readSettingsNode(path string) (*yaml.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		data, err = yaml.Marshal(framework.DefaultSettings())
		if err != nil {
			return nil, err
		}
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}}
	}
	return &doc, nil
}

// settingsFromNode decodes the document over the defaults and checks that the
// language table compiles.
func settingsFromNode(doc *yaml.Node) (framework.Settings, error) {
	settings := framework.DefaultSettings()
	if err := doc.Decode(&settings); err != nil {
		return framework.Settings{}, fmt.Errorf("invalid settings: %w", err)
	}
	if _, err := framework.NewRegistry(settings.Languages); err != nil {
		return framework.Settings{}, fmt.Errorf("invalid settings: %w", err)
	}
	return settings, nil
}

// getSettingsValue traverses mapping nodes using dotted notation.
func getSettingsValue(doc *yaml.Node, key string) (*yaml.Node, bool) {
	current := root(doc)
	for _, part := range strings.Split(key, ".") {
		if current.Kind != yaml.MappingNode {
			return nil, false
		}
		next := mappingValue(current, part)
		if next == nil {
			return nil, false
		}
		current = next
	}
	return current, true
}

// setSettingsValue mutates or creates nested keys referenced via dotted
// notation. Sequence values are written from comma-separated input.
func setSettingsValue(doc *yaml.Node, key, input string) error {
	parts := strings.Split(key, ".")
	current := root(doc)
	for i, part := range parts {
		if current.Kind != yaml.MappingNode {
			return fmt.Errorf("%s is not a mapping", strings.Join(parts[:i], "."))
		}
		existing := mappingValue(current, part)
		if i == len(parts)-1 {
			value, err := encodeValue(existing, input)
			if err != nil {
				return err
			}
			if existing != nil {
				*existing = *value
				return nil
			}
			current.Content = append(current.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: part}, value)
			return nil
		}
		if existing == nil {
			existing = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
			current.Content = append(current.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: part}, existing)
		}
		current = existing
	}
	return nil
}

func root(doc *yaml.Node) *yaml.Node {
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		return doc.Content[0]
	}
	return doc
}

func mappingValue(node *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

func encodeValue(existing *yaml.Node, input string) (*yaml.Node, error) {
	var value interface{} = parseValue(input)
	if existing != nil && existing.Kind == yaml.SequenceNode {
		items := []string{}
		for _, item := range strings.Split(input, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		value = items
	}
	node := &yaml.Node{}
	if err := node.Encode(value); err != nil {
		return nil, err
	}
	return node, nil
}

// parseValue attempts to coerce CLI input into bool/int/float before storing.
func parseValue(input string) interface{} {
	if b, err := strconv.ParseBool(input); err == nil {
		return b
	}
	if i, err := strconv.ParseInt(input, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(input, 64); err == nil {
		return f
	}
	return input
}

// prettyValue renders scalars bare and collections as YAML.
func prettyValue(node *yaml.Node) string {
	if node.Kind == yaml.ScalarNode {
		return node.Value
	}
	b, err := yaml.Marshal(node)
	if err != nil {
		return fmt.Sprint(node.Value)
	}
	return strings.TrimSpace(string(b))
}

// lineWriter forwards script output and remembers whether the stream ended
// mid-line so the final prompt is not glued to it.
type lineWriter struct {
	mu      sync.Mutex
	w       io.Writer
	partial bool
}

func (l *lineWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(p) == 0 {
		return 0, nil
	}
	n, err := l.w.Write(p)
	if n > 0 {
		l.partial = p[n-1] != '\n'
	}
	return n, err
}

// Finish terminates a dangling line.
func (l *lineWriter) Finish() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.partial {
		_, _ = io.WriteString(l.w, "\n")
		l.partial = false
	}
}
