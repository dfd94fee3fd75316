package heal

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/orian/sqlmedic/models"
)

const eqPredicate = `[A-Za-z_][\w.]*\s*=\s*(?:N?'[^']*'|\d+(?:\.\d+)?)`

var (
	// A run of two or more equality predicates joined by OR.
	orChainRe = regexp.MustCompile(`(?i)` + eqPredicate + `(?:\s+OR\s+` + eqPredicate + `)+`)
	eqPredRe  = regexp.MustCompile(`(?i)^([A-Za-z_][\w.]*)\s*=\s*(N?'[^']*'|\d+(?:\.\d+)?)$`)

	precededByAndRe = regexp.MustCompile(`(?i)\bAND\s*$`)
	followedByAndRe = regexp.MustCompile(`(?i)^\s*AND\b`)

	yearEqualityRe = regexp.MustCompile(`(?i)\bYEAR\s*\(\s*([A-Za-z_][\w.]*)\s*\)\s*=\s*(\d{4})\b`)
	leftPrefixRe   = regexp.MustCompile(`(?i)\bLEFT\s*\(\s*([A-Za-z_][\w.]*)\s*,\s*\d+\s*\)\s*=\s*N?'([^']*)'`)
)

// RuleTransformer implements the deterministic text transformations for
// the fix types that have one. Fix types absent from the registry are
// advisory only.
type RuleTransformer struct{}

// HasTransform reports whether a deterministic transformation is defined
// for the fix type. NotInToNotExists is registered but intentionally a
// no-op: a correct rewrite needs the outer table alias, which a
// text-only heuristic cannot infer, and a wrong guess silently changes
// result sets.
func (RuleTransformer) HasTransform(fixType models.FixType) bool {
	switch fixType {
	case models.FixOrToIn, models.FixFunctionInWhere, models.FixNotInToNotExists:
		return true
	}
	return false
}

// Transform applies the transformation for fixType to text. The bool
// result reports whether the text changed; unchanged means inapplicable.
func (t RuleTransformer) Transform(text string, fixType models.FixType) (string, bool) {
	switch fixType {
	case models.FixOrToIn:
		return rewriteOrChains(text)
	case models.FixFunctionInWhere:
		out, changedYear := rewriteYearEquality(text)
		out, changedLeft := rewriteLeftPrefix(out)
		return out, changedYear || changedLeft
	case models.FixNotInToNotExists:
		return text, false
	}
	return text, false
}

// orChain is a maximal run of same-column equality predicates found
// inside an OR chain.
type orChain struct {
	column string
	values []string // de-duplicated, first occurrence order
	text   string
}

// findEqualityChains scans clause text for same-column OR chains.
// Shared by the detector (evidence) and the OrToIn rewrite.
func findEqualityChains(clause string) []orChain {
	var chains []orChain
	for _, seg := range orChainRe.FindAllString(clause, -1) {
		chains = append(chains, groupChainSegment(seg)...)
	}
	return chains
}

// groupChainSegment splits one OR chain into maximal same-column groups.
func groupChainSegment(seg string) []orChain {
	parts := orSplitRe.Split(seg, -1)

	var groups []orChain
	var cur *orChain
	for _, p := range parts {
		m := eqPredRe.FindStringSubmatch(strings.TrimSpace(p))
		if m == nil {
			cur = nil
			continue
		}
		col, val := m[1], m[2]
		if cur != nil && strings.EqualFold(cur.column, col) {
			if !containsString(cur.values, val) {
				cur.values = append(cur.values, val)
			}
			cur.text += " OR " + strings.TrimSpace(p)
			continue
		}
		groups = append(groups, orChain{column: col, values: []string{val}, text: strings.TrimSpace(p)})
		cur = &groups[len(groups)-1]
	}
	return groups
}

// rewriteOrChains rewrites same-column OR chains to IN lists. A chain is
// only rewritten when it holds at least two distinct values and is not
// adjacent to an AND, where the rewrite would regroup the predicate
// against SQL operator precedence.
func rewriteOrChains(text string) (string, bool) {
	locs := orChainRe.FindAllStringIndex(text, -1)
	if locs == nil {
		return text, false
	}

	var b strings.Builder
	last := 0
	changed := false
	for _, loc := range locs {
		seg := text[loc[0]:loc[1]]
		b.WriteString(text[last:loc[0]])
		last = loc[1]

		if precededByAndRe.MatchString(text[:loc[0]]) || followedByAndRe.MatchString(text[loc[1]:]) {
			b.WriteString(seg)
			continue
		}

		rewritten, ok := rewriteChainSegment(seg)
		if ok {
			changed = true
			b.WriteString(rewritten)
		} else {
			b.WriteString(seg)
		}
	}
	b.WriteString(text[last:])

	if !changed {
		return text, false
	}
	return b.String(), true
}

// rewriteChainSegment rebuilds one OR chain, collapsing same-column
// groups with two or more distinct values into IN lists.
func rewriteChainSegment(seg string) (string, bool) {
	groups := groupChainSegment(seg)

	var out []string
	changed := false
	for _, g := range groups {
		if len(g.values) >= 2 {
			out = append(out, fmt.Sprintf("%s IN (%s)", g.column, strings.Join(g.values, ", ")))
			changed = true
		} else {
			out = append(out, g.text)
		}
	}
	if !changed {
		return seg, false
	}
	return strings.Join(out, " OR "), true
}

// rewriteYearEquality turns YEAR(col) = YYYY into a sargable date range.
func rewriteYearEquality(text string) (string, bool) {
	changed := false
	out := yearEqualityRe.ReplaceAllStringFunc(text, func(s string) string {
		m := yearEqualityRe.FindStringSubmatch(s)
		year, err := strconv.Atoi(m[2])
		if err != nil {
			return s
		}
		changed = true
		return fmt.Sprintf("%s >= '%d-01-01' AND %s < '%d-01-01'", m[1], year, m[1], year+1)
	})
	return out, changed
}

// rewriteLeftPrefix turns LEFT(col, n) = 'val' into a sargable prefix LIKE.
func rewriteLeftPrefix(text string) (string, bool) {
	changed := false
	out := leftPrefixRe.ReplaceAllStringFunc(text, func(s string) string {
		m := leftPrefixRe.FindStringSubmatch(s)
		changed = true
		return fmt.Sprintf("%s LIKE '%s%%'", m[1], m[2])
	})
	return out, changed
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
