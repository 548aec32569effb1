// Package rules consolidates mail-filter rules into fewer, equivalent rules
// and evaluates rules against sample messages.
//
// Consolidation is a fixed pipeline: GroupByAction lifts []types.Rule into
// []types.ConsolidatedRule, then each Pass transforms the list in order.
// Every pass preserves the set of messages each output rule matches.
package rules

import (
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/solatis/sievefold/internal/identity"
	"github.com/solatis/sievefold/internal/types"
)

// Pass is one transformation step applied after GroupByAction.
type Pass interface {
	Name() string
	Apply(in []types.ConsolidatedRule) []types.ConsolidatedRule
}

// DefaultPasses returns the standard pipeline.
func DefaultPasses() []Pass {
	return []Pass{MergeConditions{}, OptimizeOrdering{}}
}

// Engine runs the consolidation pipeline. Safe for concurrent use; it holds
// no mutable state.
type Engine struct {
	passes []Pass
	logger *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithPass appends a pass after the default pipeline.
func WithPass(p Pass) Option {
	return func(e *Engine) { e.passes = append(e.passes, p) }
}

// NewEngine creates an engine with the default passes.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{passes: DefaultPasses(), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Passes returns the pass names in application order.
func (e *Engine) Passes() []string {
	names := make([]string, len(e.passes))
	for i, p := range e.passes {
		names[i] = p.Name()
	}
	return names
}

// Request is the input of one consolidation run.
type Request struct {
	// Rules are the rules observed in the source system. Only enabled rules
	// are eligible unless IncludeDisabled or Reinclude says otherwise.
	Rules []types.Rule

	// Archived rules were folded into an earlier script and must keep being
	// honored. They are always eligible unless excluded.
	Archived []types.Rule

	// Exclude lists rule names to leave out.
	Exclude []string

	// IncludeDisabled makes every disabled rule eligible.
	IncludeDisabled bool

	// Reinclude holds content hashes of disabled rules that become eligible
	// again. Empty unless the caller opts in.
	Reinclude map[string]bool
}

// Report summarizes one consolidation run.
type Report struct {
	OriginalCount     int            `json:"original_count"`
	EnabledCount      int            `json:"enabled_count"`
	ConsolidatedCount int            `json:"consolidated_count"`
	ReductionPercent  float64        `json:"reduction_percent"`
	DisabledSkipped   int            `json:"disabled_skipped"`
	ArchivedSkipped   int            `json:"archived_skipped"`
	DeprecatedSkipped int            `json:"deprecated_skipped"`
	ArchivedIncluded  int            `json:"archived_included"`
	Reincluded        int            `json:"reincluded"`
	Excluded          int            `json:"excluded"`
	Groups            map[string]int `json:"groups"`
}

// Result is the output of Run.
type Result struct {
	Rules    []types.ConsolidatedRule
	Report   Report
	Consumed []types.Rule // eligible rules, in priority order
}

// Consolidate merges the enabled rules of a list.
func (e *Engine) Consolidate(rules []types.Rule) ([]types.ConsolidatedRule, Report, error) {
	res, err := e.Run(Request{Rules: rules})
	if err != nil {
		return nil, Report{}, err
	}
	return res.Rules, res.Report, nil
}

// Run validates the request, selects eligible rules and applies the pipeline.
// It fails only on invalid rules and produces no partial output.
func (e *Engine) Run(req Request) (*Result, error) {
	for _, r := range req.Rules {
		if err := types.ValidateRule(r); err != nil {
			return nil, err
		}
	}
	for _, r := range req.Archived {
		if err := types.ValidateRule(r); err != nil {
			return nil, fmt.Errorf("archived: %w", err)
		}
	}

	eligible, report := selectEligible(req)

	consolidated := GroupByAction(eligible)
	for _, p := range e.passes {
		before := len(consolidated)
		consolidated = p.Apply(consolidated)
		e.logger.Debug("pass applied",
			zap.String("pass", p.Name()),
			zap.Int("rules_in", before),
			zap.Int("rules_out", len(consolidated)))
	}

	report.ConsolidatedCount = len(consolidated)
	report.ReductionPercent = reductionPercent(report.EnabledCount, report.ConsolidatedCount)
	report.Groups = make(map[string]int, len(consolidated))
	for _, cr := range consolidated {
		report.Groups[cr.Name] = cr.SourceRuleCount()
	}

	e.logger.Info("consolidation complete",
		zap.Int("original", report.OriginalCount),
		zap.Int("eligible", report.EnabledCount),
		zap.Int("consolidated", report.ConsolidatedCount),
		zap.Float64("reduction_percent", report.ReductionPercent))

	return &Result{Rules: consolidated, Report: report, Consumed: eligible}, nil
}

// selectEligible filters the request down to the rules that enter the
// pipeline, sorted by ascending priority. A rule whose content hash was
// already selected is skipped so an archived copy never duplicates a live one.
func selectEligible(req Request) ([]types.Rule, Report) {
	report := Report{OriginalCount: len(req.Rules) + len(req.Archived)}

	excluded := make(map[string]bool, len(req.Exclude))
	for _, name := range req.Exclude {
		excluded[name] = true
	}

	seen := make(map[string]bool)
	var eligible []types.Rule
	take := func(r types.Rule, hash string) {
		if seen[hash] {
			return
		}
		seen[hash] = true
		eligible = append(eligible, r)
	}

	for _, r := range req.Rules {
		if excluded[r.Name] {
			report.Excluded++
			continue
		}
		hash := identity.Hash(r)
		switch r.Status {
		case types.StatusEnabled:
			take(r, hash)
		case types.StatusDisabled:
			switch {
			case req.IncludeDisabled:
				take(r, hash)
			case req.Reinclude[hash]:
				report.Reincluded++
				take(r, hash)
			default:
				report.DisabledSkipped++
			}
		case types.StatusArchived:
			report.ArchivedSkipped++
		case types.StatusDeprecated:
			report.DeprecatedSkipped++
		}
	}

	for _, r := range req.Archived {
		if excluded[r.Name] {
			report.Excluded++
			continue
		}
		if r.Status == types.StatusDeprecated {
			report.DeprecatedSkipped++
			continue
		}
		hash := identity.Hash(r)
		if seen[hash] {
			continue
		}
		report.ArchivedIncluded++
		take(r, hash)
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].Priority < eligible[j].Priority
	})

	report.EnabledCount = len(eligible)
	return eligible, report
}

// reductionPercent is 100 * (1 - consolidated/enabled), rounded to one
// decimal place, and 0 for an empty input.
func reductionPercent(enabled, consolidated int) float64 {
	if enabled == 0 {
		return 0
	}
	pct := 100 * (1 - float64(consolidated)/float64(enabled))
	return math.Round(pct*10) / 10
}
