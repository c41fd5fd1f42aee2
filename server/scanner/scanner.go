// Package scanner evaluates the blacklist against a message field.
package scanner

import (
	"fmt"
	"log/slog"

	"github.com/migadu/filter-contentstrings/logger"
	"github.com/migadu/filter-contentstrings/pkg/blacklist"
	"github.com/migadu/filter-contentstrings/pkg/metrics"
)

// Hit records one matcher that fired.
type Hit struct {
	Kind    blacklist.Kind
	Pattern string
}

// Result is the outcome of scanning one field.
type Result struct {
	Allow bool
	Hits  []Hit
}

// Scanner applies a blacklist to message fields.
type Scanner struct {
	list *blacklist.List
}

func New(list *blacklist.List) *Scanner {
	return &Scanner{list: list}
}

// Scan evaluates every matcher, in order, against content. It does not stop at
// the first hit so that all violating patterns are reported. A nil content is
// allowed without evaluating any matcher. log may be nil.
func (s *Scanner) Scan(log *slog.Logger, field string, content *string) Result {
	result := Result{Allow: true}
	if content == nil {
		return result
	}
	if log == nil {
		log = logger.Get()
	}

	for m := range s.list.All() {
		if !m.Match(*content) {
			continue
		}
		result.Allow = false
		result.Hits = append(result.Hits, Hit{Kind: m.Kind(), Pattern: m.String()})

		metrics.MatcherHitsTotal.WithLabelValues(string(m.Kind()), field).Inc()
		log.Info(fmt.Sprintf("Forbidden %s found", m.Kind()), "field", field, "pattern", m.String())
	}

	return result
}
