package shell

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed commands.yaml
var defaultPhraseYAML []byte

// PhraseTable maps a view and a language code to the phrases that navigate
// to that view.
type PhraseTable map[ViewType]map[string][]string

// ParsePhraseTable decodes a phrase table and normalises every phrase to
// lowercase. Unknown views and empty phrases are rejected.
func ParsePhraseTable(data []byte) (PhraseTable, error) {
	var raw map[string]map[string][]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse phrase table: %w", err)
	}
	table := make(PhraseTable, len(raw))
	for view, byLang := range raw {
		v, err := ParseView(view)
		if err != nil {
			return nil, err
		}
		table[v] = make(map[string][]string, len(byLang))
		for code, phrases := range byLang {
			normalised := make([]string, 0, len(phrases))
			for _, p := range phrases {
				p = strings.ToLower(strings.TrimSpace(p))
				if p == "" {
					return nil, fmt.Errorf("empty phrase for %s/%s", view, code)
				}
				normalised = append(normalised, p)
			}
			table[v][code] = normalised
		}
	}
	return table, nil
}

var defaultPhrases = sync.OnceValues(func() (PhraseTable, error) {
	return ParsePhraseTable(defaultPhraseYAML)
})

// DefaultPhrases is the embedded phrase table.
func DefaultPhrases() (PhraseTable, error) {
	return defaultPhrases()
}

// Phrases returns nil when the view has no phrases for the language.
func (t PhraseTable) Phrases(v ViewType, code string) []string {
	return t[v][code]
}
