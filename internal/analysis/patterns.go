package analysis

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/t77yq/crisiswatch/internal/model"
)

// PatternMatch is a library pattern and how many indicators it shares with a query
type PatternMatch struct {
	Pattern model.CrisisPattern
	Overlap int
}

// PatternLibrary is the append-only set of learned crisis signatures.
// Readers always receive copies; Record is the only mutation.
type PatternLibrary struct {
	mu       sync.RWMutex
	patterns []model.CrisisPattern
}

// NewPatternLibrary creates a library seeded with the given patterns
func NewPatternLibrary(seed ...model.CrisisPattern) *PatternLibrary {
	l := &PatternLibrary{}
	for _, p := range seed {
		l.Record(p)
	}
	return l
}

// Record appends a pattern and returns the stored copy
func (l *PatternLibrary) Record(p model.CrisisPattern) model.CrisisPattern {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.FirstSeen.IsZero() {
		p.FirstSeen = time.Now()
	}
	p.Indicators = normalizeIndicators(p.Indicators)

	l.mu.Lock()
	l.patterns = append(l.patterns, p)
	l.mu.Unlock()

	return clonePattern(p)
}

// Len returns the number of recorded patterns
func (l *PatternLibrary) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.patterns)
}

// Snapshot returns a copy of every pattern in insertion order
func (l *PatternLibrary) Snapshot() []model.CrisisPattern {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]model.CrisisPattern, len(l.patterns))
	for i, p := range l.patterns {
		out[i] = clonePattern(p)
	}
	return out
}

// FindSimilar returns patterns sharing at least one indicator, largest overlap first
func (l *PatternLibrary) FindSimilar(indicators []string) []PatternMatch {
	query := make(map[string]bool, len(indicators))
	for _, ind := range normalizeIndicators(indicators) {
		query[ind] = true
	}
	if len(query) == 0 {
		return nil
	}

	l.mu.RLock()
	var matches []PatternMatch
	for _, p := range l.patterns {
		overlap := 0
		for _, ind := range p.Indicators {
			if query[ind] {
				overlap++
			}
		}
		if overlap > 0 {
			matches = append(matches, PatternMatch{Pattern: clonePattern(p), Overlap: overlap})
		}
	}
	l.mu.RUnlock()

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Overlap > matches[j].Overlap
	})
	return matches
}

func clonePattern(p model.CrisisPattern) model.CrisisPattern {
	p.Indicators = append([]string(nil), p.Indicators...)
	return p
}

// normalizeIndicators lowercases, trims and de-duplicates, keeping first-seen order
func normalizeIndicators(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, ind := range in {
		ind = strings.ToLower(strings.TrimSpace(ind))
		if ind == "" || seen[ind] {
			continue
		}
		seen[ind] = true
		out = append(out, ind)
	}
	return out
}
