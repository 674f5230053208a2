package session

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed phrases.yaml
var defaultPhrasesYAML []byte

// PhraseSet holds end-of-conversation phrases in several languages. Matching
// is case-insensitive substring search, so "Thank you, goodbye!" hits both
// "thank you" and "goodbye".
type PhraseSet struct {
	phrases []string
}

type phraseFile struct {
	Phrases []string `yaml:"phrases"`
}

// DefaultPhrases returns the compiled-in multilingual set.
func DefaultPhrases() *PhraseSet {
	ps, err := parsePhrases(defaultPhrasesYAML)
	if err != nil {
		// The embedded file is validated by tests; an empty set is still safe
		// because the classifier tier remains.
		return &PhraseSet{}
	}
	return ps
}

// LoadPhrases reads a phrase set from a YAML file. An empty path returns the
// default set.
func LoadPhrases(path string) (*PhraseSet, error) {
	if path == "" {
		return DefaultPhrases(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read phrase file: %w", err)
	}
	return parsePhrases(raw)
}

func parsePhrases(raw []byte) (*PhraseSet, error) {
	var pf phraseFile
	if err := yaml.Unmarshal(raw, &pf); err != nil {
		return nil, fmt.Errorf("parse phrase file: %w", err)
	}
	ps := &PhraseSet{phrases: make([]string, 0, len(pf.Phrases))}
	for _, p := range pf.Phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			ps.phrases = append(ps.phrases, p)
		}
	}
	return ps, nil
}

// Matches reports whether text contains any phrase in the set.
func (p *PhraseSet) Matches(text string) bool {
	if p == nil || len(p.phrases) == 0 {
		return false
	}
	lower := strings.ToLower(text)
	for _, phrase := range p.phrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// Len returns the number of phrases in the set.
func (p *PhraseSet) Len() int {
	if p == nil {
		return 0
	}
	return len(p.phrases)
}
