package normalize

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
)

// Canonicalizer maps historical commodity name variants onto canonical
// names so one commodity's history does not fragment across spelling drift.
// The alias table is injected reference data, loaded from configuration.
type Canonicalizer struct {
	aliases map[string]string // fold(variant) -> canonical
	fold    cases.Caser

	mu         sync.Mutex
	candidates map[string]struct{}
}

// NewCanonicalizer builds a Canonicalizer from an alias table of
// variant -> canonical name entries. Lookup is case-insensitive.
func NewCanonicalizer(aliases map[string]string) *Canonicalizer {
	fold := cases.Fold()
	table := make(map[string]string, len(aliases))
	for variant, canonical := range aliases {
		table[fold.String(collapseSpaces(variant))] = collapseSpaces(canonical)
	}
	return &Canonicalizer{
		aliases:    table,
		fold:       fold,
		candidates: make(map[string]struct{}),
	}
}

// Canonicalize trims and collapses whitespace, then resolves the name
// through the alias table. Unmatched names pass through unchanged and are
// logged once per run as new commodity candidates.
func (c *Canonicalizer) Canonicalize(name string) string {
	cleaned := collapseSpaces(name)
	if cleaned == "" {
		return cleaned
	}

	if canonical, ok := c.aliases[c.fold.String(cleaned)]; ok {
		return canonical
	}

	c.mu.Lock()
	_, seen := c.candidates[cleaned]
	if !seen {
		c.candidates[cleaned] = struct{}{}
	}
	c.mu.Unlock()

	if !seen {
		zap.L().Debug("new commodity candidate", zap.String("name", cleaned))
	}

	return cleaned
}

// Candidates returns the names seen this run that had no alias entry.
func (c *Canonicalizer) Candidates() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.candidates))
	for name := range c.candidates {
		out = append(out, name)
	}
	return out
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
