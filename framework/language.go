package framework

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"gopkg.in/yaml.v3"
)

const resolveCacheSize = 256

// LanguageSpec describes how to materialize and invoke one language.
// Executable must contain FilePlaceholder; Template, when set, must contain
// ContentPlaceholder.
type LanguageSpec struct {
	Executable string `yaml:"executable" json:"executable"`
	Template   string `yaml:"template,omitempty" json:"template,omitempty"`
}

// LanguageEntry binds a tag pattern such as "js|javascript" to a spec.
type LanguageEntry struct {
	Pattern string       `json:"pattern"`
	Spec    LanguageSpec `json:"spec"`
}

// Languages is the ordered registry contents. In YAML it is written as a
// mapping from pattern to spec; key order is preserved.
type Languages []LanguageEntry

// UnmarshalYAML decodes a mapping node while keeping key order.
func (l *Languages) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("languages: expected mapping, got %s", node.ShortTag())
	}
	out := make(Languages, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var pattern string
		if err := node.Content[i].Decode(&pattern); err != nil {
			return fmt.Errorf("languages: key at line %d: %w", node.Content[i].Line, err)
		}
		var spec LanguageSpec
		if err := node.Content[i+1].Decode(&spec); err != nil {
			return fmt.Errorf("languages: %s: %w", pattern, err)
		}
		out = append(out, LanguageEntry{Pattern: pattern, Spec: spec})
	}
	*l = out
	return nil
}

// MarshalYAML encodes the entries as an ordered mapping node.
func (l Languages) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, entry := range l {
		key := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: entry.Pattern}
		value := &yaml.Node{}
		if err := value.Encode(entry.Spec); err != nil {
			return nil, fmt.Errorf("languages: %s: %w", entry.Pattern, err)
		}
		node.Content = append(node.Content, key, value)
	}
	return node, nil
}

// Lookup returns the spec registered under the exact pattern string.
func (l Languages) Lookup(pattern string) (LanguageSpec, bool) {
	for _, entry := range l {
		if entry.Pattern == pattern {
			return entry.Spec, true
		}
	}
	return LanguageSpec{}, false
}

// DefaultLanguages mirrors the stock language table.
func DefaultLanguages() Languages {
	return Languages{
		{Pattern: "sh", Spec: LanguageSpec{
			Executable: "sh " + FilePlaceholder,
			Template:   "#!/bin/sh\n\nset -e\n\n" + ContentPlaceholder,
		}},
		{Pattern: "bash", Spec: LanguageSpec{
			Executable: "bash " + FilePlaceholder,
			Template:   "#!/bin/bash\n\nset -e\n\n" + ContentPlaceholder,
		}},
		{Pattern: "js|javascript", Spec: LanguageSpec{
			Executable: "node " + FilePlaceholder,
			Template:   "(async () => {\n  " + ContentPlaceholder + "\n})()",
		}},
		{Pattern: "python", Spec: LanguageSpec{
			Executable: "python " + FilePlaceholder,
			Template:   ContentPlaceholder,
		}},
		{Pattern: "go", Spec: LanguageSpec{
			Executable: "go run " + FilePlaceholder,
			Template:   "package main\n\nimport (\"fmt\")\n\nfunc main() {\n  " + ContentPlaceholder + "\n}",
		}},
		{Pattern: "php", Spec: LanguageSpec{
			Executable: "php " + FilePlaceholder,
			Template:   "<?php\n\n" + ContentPlaceholder,
		}},
	}
}

type compiledLanguage struct {
	entry LanguageEntry
	re    *regexp.Regexp
}

type resolveResult struct {
	spec  LanguageSpec
	found bool
}

// Registry resolves language tags against an ordered list of patterns.
// It is immutable once built.
type Registry struct {
	entries []compiledLanguage
	cache   *lru.Cache[string, resolveResult]
}

// NewRegistry compiles every pattern as a fully anchored alternation.
func NewRegistry(langs Languages) (*Registry, error) {
	cache, err := lru.New[string, resolveResult](resolveCacheSize)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(langs))
	entries := make([]compiledLanguage, 0, len(langs))
	for _, entry := range langs {
		if strings.TrimSpace(entry.Pattern) == "" {
			return nil, errors.New("language pattern required")
		}
		if seen[entry.Pattern] {
			return nil, fmt.Errorf("duplicate language pattern %q", entry.Pattern)
		}
		seen[entry.Pattern] = true
		re, err := regexp.Compile("^(?:" + entry.Pattern + ")$")
		if err != nil {
			return nil, fmt.Errorf("language pattern %q: %w", entry.Pattern, err)
		}
		if re.MatchString("") {
			return nil, fmt.Errorf("language pattern %q matches the empty tag", entry.Pattern)
		}
		entries = append(entries, compiledLanguage{entry: entry, re: re})
	}
	return &Registry{entries: entries, cache: cache}, nil
}

// Resolve returns the first spec whose pattern fully matches tag.
func (r *Registry) Resolve(tag string) (LanguageSpec, bool) {
	if r == nil || tag == "" {
		return LanguageSpec{}, false
	}
	if hit, ok := r.cache.Get(tag); ok {
		return hit.spec, hit.found
	}
	result := resolveResult{}
	for _, lang := range r.entries {
		if lang.re.MatchString(tag) {
			result = resolveResult{spec: lang.entry.Spec, found: true}
			break
		}
	}
	r.cache.Add(tag, result)
	return result.spec, result.found
}

// AllSupportedTags joins every pattern with "|" so callers can build one
// combined matcher.
func (r *Registry) AllSupportedTags() string {
	return strings.Join(r.Patterns(), "|")
}

// Patterns lists the registered patterns in resolution order.
func (r *Registry) Patterns() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.entries))
	for _, lang := range r.entries {
		out = append(out, lang.entry.Pattern)
	}
	return out
}

// Len reports how many languages are registered.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}
