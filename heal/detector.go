package heal

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/orian/sqlmedic/models"
)

// Metric thresholds for the load-based detection rules.
const (
	cpuWarnMs          = 100
	cpuCriticalMs      = 500
	elapsedWarnMs      = 1_000
	elapsedCriticalMs  = 5_000
	logicalReadsWarn   = 10_000
	logicalReadsCrit   = 100_000
	physicalReadsWarn  = 1_000
	hotQueryExecutions = 1_000
	hotQueryCpuMs      = 50
)

var (
	selectStarRe = regexp.MustCompile(`(?i)\bSELECT\s+(?:TOP\s*\(?\s*\d+\s*\)?\s+)?\*`)
	whereRe      = regexp.MustCompile(`(?is)\bWHERE\b(.*?)(?:\bGROUP\s+BY\b|\bORDER\s+BY\b|\bHAVING\b|\bUNION\b|$)`)
	orSplitRe    = regexp.MustCompile(`(?i)\s+OR\s+`)

	// Function wrapped around a column on the left side of a comparison.
	functionOnColumnRe = regexp.MustCompile(`(?i)\b(UPPER|LOWER|LTRIM|RTRIM|TRIM|YEAR|MONTH|DAY|DATEPART|DATEADD|DATEDIFF|SUBSTRING|LEFT|RIGHT|ISNULL|COALESCE|CONVERT|CAST|ABS|ROUND)\s*\(\s*[A-Za-z_][\w.]*[^)]*\)\s*(?:=|<>|!=|<=|>=|<|>|\bLIKE\b|\bIN\b)`)

	notInRe           = regexp.MustCompile(`(?i)\bNOT\s+IN\s*\(`)
	leadingWildcardRe = regexp.MustCompile(`(?i)\bLIKE\s+N?'%[^']*'`)
	distinctRe        = regexp.MustCompile(`(?i)\bSELECT\s+DISTINCT\b`)
	joinRe            = regexp.MustCompile(`(?i)\bJOIN\b`)

	// Unicode literal compared against a column, the classic implicit
	// conversion trap when the column is a non-unicode type.
	unicodeCompareRe = regexp.MustCompile(`(?i)[A-Za-z_][\w.]*\s*(?:=|<>|!=)\s*N'[^']*'`)
	castInWhereRe    = regexp.MustCompile(`(?i)\b(?:CAST|CONVERT)\s*\(`)

	selectListRe = regexp.MustCompile(`(?is)\bSELECT\b(.*?)\bFROM\b`)
	subSelectRe  = regexp.MustCompile(`(?i)\(\s*SELECT\b`)
)

// PatternDetector scans a query's text for known anti-patterns and its
// metrics for load-based risk factors. It is a pure function of its
// inputs and holds no state.
type PatternDetector struct{}

// NewPatternDetector returns a detector with the built-in rule set.
func NewPatternDetector() *PatternDetector {
	return &PatternDetector{}
}

// Detect evaluates every rule independently and returns the union of
// matches ordered by estimated impact descending. Equal-impact findings
// preserve detection order.
func (d *PatternDetector) Detect(query models.Query, advisories []models.IndexAdvisory) []models.Finding {
	var findings []models.Finding

	findings = append(findings, d.detectTextPatterns(query.Text)...)
	findings = append(findings, d.detectLoadPatterns(query.Metrics)...)
	findings = append(findings, d.detectMissingIndexes(query.Text, advisories)...)

	sort.SliceStable(findings, func(i, j int) bool {
		return findings[i].EstimatedImpact > findings[j].EstimatedImpact
	})
	return findings
}

func (d *PatternDetector) detectTextPatterns(text string) []models.Finding {
	var findings []models.Finding

	if loc := selectStarRe.FindString(text); loc != "" {
		findings = append(findings, models.Finding{
			Rule:            models.RuleSelectStar,
			Category:        models.CategoryQueryRewrite,
			Severity:        models.SeverityWarning,
			Title:           "Unbounded projection (SELECT *)",
			Description:     "SELECT * fetches every column, inflating I/O and blocking covering-index use. List only the columns the caller reads.",
			Example:         "SELECT ID, NAME FROM ...",
			EstimatedImpact: 35,
			Evidence:        loc,
		})
	}

	whereClause := extractWhereClause(text)

	if whereClause != "" {
		chains := findEqualityChains(whereClause)
		sameColumn := false
		for _, c := range chains {
			if len(c.values) >= 2 {
				sameColumn = true
				findings = append(findings, models.Finding{
					Rule:            models.RuleOrChain,
					Category:        models.CategoryQueryRewrite,
					Severity:        models.SeverityInfo,
					Title:           "Disjunctive predicate on a single column",
					Description:     fmt.Sprintf("Column %s is compared against %d values joined by OR. An IN list is equivalent and optimizes better.", c.column, len(c.values)),
					Example:         fmt.Sprintf("%s IN (%s)", c.column, strings.Join(c.values, ", ")),
					EstimatedImpact: 30,
					Evidence:        c.text,
				})
				break
			}
		}

		if !sameColumn && len(orSplitRe.Split(whereClause, -1)) > 1 {
			findings = append(findings, models.Finding{
				Rule:            models.RuleOrInWhere,
				Category:        models.CategoryQueryRewrite,
				Severity:        models.SeverityInfo,
				Title:           "OR in WHERE clause",
				Description:     "Disjunctions across different columns can defeat index selection. Consider restructuring as a UNION of indexed branches.",
				EstimatedImpact: 20,
				Evidence:        strings.TrimSpace(shorten(whereClause, 120)),
			})
		}

		if m := functionOnColumnRe.FindString(whereClause); m != "" {
			findings = append(findings, models.Finding{
				Rule:            models.RuleNonSargable,
				Category:        models.CategoryQueryRewrite,
				Severity:        models.SeverityWarning,
				Title:           "Function-wrapped column in predicate",
				Description:     "Wrapping a column in a function makes the predicate non-sargable: the engine must evaluate it for every row instead of seeking an index.",
				Example:         "YEAR(CREATEDDATE) = 2024  ->  CREATEDDATE >= '2024-01-01' AND CREATEDDATE < '2025-01-01'",
				EstimatedImpact: 65,
				Evidence:        strings.TrimSpace(m),
			})
		}

		if m := unicodeCompareRe.FindString(whereClause); m != "" {
			findings = append(findings, models.Finding{
				Rule:            models.RuleImplicitConversion,
				Category:        models.CategoryQueryRewrite,
				Severity:        models.SeverityWarning,
				Title:           "Suspected implicit type conversion",
				Description:     "A unicode literal compared against a column forces a column-side conversion when the column is a non-unicode type, preventing index seeks.",
				EstimatedImpact: 60,
				Evidence:        strings.TrimSpace(m),
			})
		} else if m := castInWhereRe.FindString(whereClause); m != "" {
			findings = append(findings, models.Finding{
				Rule:            models.RuleImplicitConversion,
				Category:        models.CategoryQueryRewrite,
				Severity:        models.SeverityWarning,
				Title:           "Explicit cast inside predicate",
				Description:     "CAST/CONVERT inside a WHERE clause is evaluated per row and disables index seeks on the converted column.",
				EstimatedImpact: 60,
				Evidence:        strings.TrimSpace(m),
			})
		}
	}

	if m := notInRe.FindString(text); m != "" {
		findings = append(findings, models.Finding{
			Rule:            models.RuleNotIn,
			Category:        models.CategoryQueryRewrite,
			Severity:        models.SeverityInfo,
			Title:           "Negated set membership (NOT IN)",
			Description:     "NOT IN returns no rows when the subquery yields any NULL, and usually plans worse than NOT EXISTS. Review NULL semantics before rewriting.",
			Example:         "NOT EXISTS (SELECT 1 FROM ... WHERE ...)",
			EstimatedImpact: 45,
			Evidence:        strings.TrimSpace(m),
		})
	}

	if m := leadingWildcardRe.FindString(text); m != "" {
		findings = append(findings, models.Finding{
			Rule:            models.RuleLeadingWildcard,
			Category:        models.CategoryIndexing,
			Severity:        models.SeverityWarning,
			Title:           "Leading-wildcard LIKE",
			Description:     "A pattern starting with % cannot use an index seek and scans the whole column. Prefer a prefix match or full-text search.",
			EstimatedImpact: 55,
			Evidence:        strings.TrimSpace(m),
		})
	}

	if distinctRe.MatchString(text) {
		impact := 10
		desc := "DISTINCT forces a sort or hash of the whole result. Verify the duplicates are real before paying for de-duplication."
		if joinRe.MatchString(text) {
			impact = 40
			desc = "DISTINCT combined with JOINs often papers over row multiplication from a missing join predicate. Check the join conditions before de-duplicating."
		}
		findings = append(findings, models.Finding{
			Rule:            models.RuleDistinct,
			Category:        models.CategoryQueryRewrite,
			Severity:        models.SeverityInfo,
			Title:           "DISTINCT present",
			Description:     desc,
			EstimatedImpact: impact,
			Evidence:        "SELECT DISTINCT",
		})
	}

	if m := selectListRe.FindStringSubmatch(text); m != nil && subSelectRe.MatchString(m[1]) {
		findings = append(findings, models.Finding{
			Rule:            models.RuleSubqueryInSelect,
			Category:        models.CategoryQueryRewrite,
			Severity:        models.SeverityWarning,
			Title:           "Subquery in projection",
			Description:     "A correlated subquery in the SELECT list runs once per output row. Rewriting it as a JOIN evaluates it once.",
			EstimatedImpact: 70,
			Evidence:        strings.TrimSpace(shorten(m[1], 120)),
		})
	}

	return findings
}

func (d *PatternDetector) detectLoadPatterns(m models.QueryMetrics) []models.Finding {
	var findings []models.Finding

	if m.AvgCpuTimeMs > cpuWarnMs {
		sev := models.SeverityWarning
		if m.AvgCpuTimeMs > cpuCriticalMs {
			sev = models.SeverityCritical
		}
		impact := int(math.Min(90, 40+m.AvgCpuTimeMs/25))
		findings = append(findings, models.Finding{
			Rule:            models.RuleHighCpuTime,
			Category:        models.CategoryQueryRewrite,
			Severity:        sev,
			Title:           "High average CPU time",
			Description:     fmt.Sprintf("Average CPU time is %.0fms per execution. The statement burns compute even when it returns quickly.", m.AvgCpuTimeMs),
			EstimatedImpact: impact,
			Evidence:        fmt.Sprintf("avg_cpu_time_ms=%.0f", m.AvgCpuTimeMs),
		})
	}

	if m.AvgElapsedTimeMs > elapsedWarnMs {
		sev := models.SeverityWarning
		if m.AvgElapsedTimeMs > elapsedCriticalMs {
			sev = models.SeverityCritical
		}
		impact := int(math.Min(90, 40+m.AvgElapsedTimeMs/200))
		findings = append(findings, models.Finding{
			Rule:            models.RuleHighElapsedTime,
			Category:        models.CategoryStatistics,
			Severity:        sev,
			Title:           "High average elapsed time",
			Description:     fmt.Sprintf("Average latency is %.0fms per execution. Check index coverage and statistics freshness for the referenced tables.", m.AvgElapsedTimeMs),
			EstimatedImpact: impact,
			Evidence:        fmt.Sprintf("avg_elapsed_time_ms=%.0f", m.AvgElapsedTimeMs),
		})
	}

	if m.AvgLogicalReads > logicalReadsWarn {
		sev := models.SeverityWarning
		if m.AvgLogicalReads > logicalReadsCrit {
			sev = models.SeverityCritical
		}
		findings = append(findings, models.Finding{
			Rule:            models.RuleHighLogicalReads,
			Category:        models.CategoryIndexing,
			Severity:        sev,
			Title:           "High average logical reads",
			Description:     fmt.Sprintf("Average of %.0f buffer pages per execution suggests scans where seeks were possible. Review indexes on the filtered columns.", m.AvgLogicalReads),
			EstimatedImpact: 85,
			Evidence:        fmt.Sprintf("avg_logical_reads=%.0f", m.AvgLogicalReads),
		})
	}

	if m.AvgPhysicalReads > physicalReadsWarn {
		findings = append(findings, models.Finding{
			Rule:            models.RuleHighPhysicalReads,
			Category:        models.CategoryCaching,
			Severity:        models.SeverityWarning,
			Title:           "High average physical reads",
			Description:     fmt.Sprintf("Average of %.0f pages read from disk per execution; the working set does not fit in cache for this query.", m.AvgPhysicalReads),
			EstimatedImpact: 60,
			Evidence:        fmt.Sprintf("avg_physical_reads=%.0f", m.AvgPhysicalReads),
		})
	}

	// Frequency times cost is the single highest-priority signal.
	if m.ExecutionCount > hotQueryExecutions && m.AvgCpuTimeMs > hotQueryCpuMs {
		findings = append(findings, models.Finding{
			Rule:            models.RuleHotQuery,
			Category:        models.CategoryCaching,
			Severity:        models.SeverityCritical,
			Title:           "Hot query: high frequency and high cost",
			Description:     fmt.Sprintf("%d executions at %.0fms CPU each. Caching the result or reducing per-call cost pays off across every execution.", m.ExecutionCount, m.AvgCpuTimeMs),
			EstimatedImpact: 95,
			Evidence:        fmt.Sprintf("executions=%d avg_cpu_time_ms=%.0f", m.ExecutionCount, m.AvgCpuTimeMs),
		})
	}

	return findings
}

func (d *PatternDetector) detectMissingIndexes(text string, advisories []models.IndexAdvisory) []models.Finding {
	var findings []models.Finding
	upper := strings.ToUpper(text)

	for _, adv := range advisories {
		if adv.Table != "" && !strings.Contains(upper, strings.ToUpper(adv.Table)) {
			continue
		}
		impact := int(math.Min(95, math.Max(0, adv.ImpactScore*0.95)))
		findings = append(findings, models.Finding{
			Rule:            models.RuleMissingIndex,
			Category:        models.CategoryIndexing,
			Severity:        models.SeverityCritical,
			Title:           fmt.Sprintf("Missing index on %s", adv.Table),
			Description:     fmt.Sprintf("The index-statistics collaborator reports a missing index on %s with impact score %.0f.", adv.Table, adv.ImpactScore),
			Example:         missingIndexExample(adv),
			EstimatedImpact: impact,
			Evidence:        fmt.Sprintf("table=%s impact=%.0f", adv.Table, adv.ImpactScore),
		})
	}
	return findings
}

func missingIndexExample(adv models.IndexAdvisory) string {
	cols := append(append([]string{}, adv.EqualityColumns...), adv.InequalityColumns...)
	if len(cols) == 0 {
		return ""
	}
	stmt := fmt.Sprintf("CREATE INDEX IX_%s ON %s (%s)", strings.ReplaceAll(adv.Table, ".", "_"), adv.Table, strings.Join(cols, ", "))
	if len(adv.IncludedColumns) > 0 {
		stmt += fmt.Sprintf(" INCLUDE (%s)", strings.Join(adv.IncludedColumns, ", "))
	}
	return stmt
}

// extractWhereClause returns the text of the first WHERE clause, up to the
// next major clause keyword, or "" when there is none.
func extractWhereClause(text string) string {
	m := whereRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1]
}

func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
