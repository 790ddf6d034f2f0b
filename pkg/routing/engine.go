// Package routing classifies report text into a department and a priority.
package routing

import (
	"fmt"
	"strings"

	"citizen-reporting-system/pkg/report"
)

type Config struct {
	Departments         []Department
	PriorityBuckets     []PriorityRule
	CategoryDepartments []CategoryRule
	MinKeywordMatches   int
	DefaultPriority     int
	DefaultDepartment   string
}

func DefaultConfig() Config {
	return Config{
		Departments:         Departments,
		PriorityBuckets:     PriorityBuckets,
		CategoryDepartments: CategoryDepartments,
		MinKeywordMatches:   1,
		DefaultPriority:     3,
		DefaultDepartment:   DefaultDepartment,
	}
}

// Decision is the outcome of routing one report.
type Decision struct {
	DepartmentCode string
	Priority       int
	Reason         string
	// Fallback is true when no department reached the keyword threshold.
	Fallback bool
}

type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	if cfg.MinKeywordMatches < 1 {
		cfg.MinKeywordMatches = 1
	}
	if cfg.DefaultPriority < 1 || cfg.DefaultPriority > 5 {
		cfg.DefaultPriority = 3
	}
	if cfg.DefaultDepartment == "" {
		cfg.DefaultDepartment = DefaultDepartment
	}
	return &Engine{cfg: cfg}
}

// Route is pure: the same input always yields the same decision.
func (e *Engine) Route(title, description string, category report.Category) Decision {
	text := strings.ToLower(title + " " + description)

	d := e.department(text, category)
	d.Priority = e.priority(text)
	return d
}

func (e *Engine) department(text string, category report.Category) Decision {
	bestCode := ""
	bestScore := 0
	var bestHits []string
	for _, dept := range e.cfg.Departments {
		hits := matches(text, dept.Keywords)
		if len(hits) > bestScore {
			bestCode, bestScore, bestHits = dept.Code, len(hits), hits
		}
	}
	if bestScore >= e.cfg.MinKeywordMatches {
		return Decision{
			DepartmentCode: bestCode,
			Reason:         fmt.Sprintf("keyword match: %d keyword(s) [%s]", bestScore, strings.Join(bestHits, ", ")),
		}
	}

	for _, rule := range e.cfg.CategoryDepartments {
		if rule.Category == category {
			return Decision{
				DepartmentCode: rule.Department,
				Reason:         fmt.Sprintf("category fallback: %s", category),
				Fallback:       true,
			}
		}
	}
	return Decision{
		DepartmentCode: e.cfg.DefaultDepartment,
		Reason:         "default department: no keyword or category match",
		Fallback:       true,
	}
}

func (e *Engine) priority(text string) int {
	for _, bucket := range e.cfg.PriorityBuckets {
		if len(matches(text, bucket.Keywords)) > 0 {
			return bucket.Priority
		}
	}
	return e.cfg.DefaultPriority
}

func matches(text string, keywords []string) []string {
	var hits []string
	for _, kw := range keywords {
		if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
			hits = append(hits, kw)
		}
	}
	return hits
}
