package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"storyseed/internal/config"
	"storyseed/internal/domain"
	"storyseed/internal/identity"
	"storyseed/internal/manifest"
	"storyseed/internal/timeline"
	"storyseed/internal/tracker"
)

// DefaultBatchSize is the number of records sent per creation call.
const DefaultBatchSize = 50

// Options are the run parameters that shape generation.
type Options struct {
	Seed  string
	Range timeline.Range
	// MonthlyVolume overrides the sampled per-month record count when set.
	MonthlyVolume *int
	BatchSize     int
	Sprints       bool
	Transitions   bool
	Comments      bool
	Incidents     bool
	Assignees     []string
}

// Result summarizes a run.
type Result struct {
	Synthesized       int `json:"synthesized"`
	Skipped           int `json:"skipped"`
	Created           int `json:"created"`
	Pending           int `json:"pending"`
	Links             int `json:"links"`
	Followups         int `json:"followups"`
	SprintAssignments int `json:"sprint_assignments"`
}

// ErrIncomplete is returned by Flush when some records could not be created.
var ErrIncomplete = errors.New("records still pending")

// Engine turns a story and seed into tracker records.
type Engine struct {
	Story    *config.Story
	Opts     Options
	Client   tracker.Client
	Manifest *manifest.Manifest
	Logger   *slog.Logger
	Now      func() time.Time

	stream      *identity.Stream
	issueTypes  map[string]bool
	typeWarned  map[string]bool
	assignees   []string
	sharedTeams map[string][]string

	existing map[string]map[string]bool
	keyByExt map[string]string
	newInRun map[string]bool

	pending   []domain.Record
	deferred  []domain.Record
	epics     []EpicRef
	followups []domain.FollowupSpec
	byMonth   map[string]map[int][]string
	sprints   map[string][]string

	result Result
}

// New prepares an engine. The stream is derived from the story org and the seed.
func New(story *config.Story, opts Options, client tracker.Client) (*Engine, error) {
	if story == nil {
		return nil, fmt.Errorf("%w: story not loaded", config.ErrConfiguration)
	}
	if opts.Seed == "" {
		return nil, fmt.Errorf("%w: seed is required", config.ErrConfiguration)
	}
	if opts.Range.Months < 1 {
		return nil, fmt.Errorf("%w: date range has no months", config.ErrConfiguration)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	e := &Engine{
		Story:       story,
		Opts:        opts,
		Client:      client,
		Now:         time.Now,
		stream:      identity.NewStream(story.Org(), opts.Seed),
		typeWarned:  map[string]bool{},
		sharedTeams: story.SharedTeams(),
		existing:    map[string]map[string]bool{},
		keyByExt:    map[string]string{},
		newInRun:    map[string]bool{},
		byMonth:     map[string]map[int][]string{},
		sprints:     map[string][]string{},
	}
	return e, nil
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Run executes the whole pipeline: reconcile, synthesize, flush, sprints.
// A non-nil error wrapping ErrIncomplete still comes with a complete manifest.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	if e.Manifest == nil {
		e.Manifest = manifest.New(manifest.Meta{
			GeneratedAt: e.now().UTC().Format(time.RFC3339),
			Org:         e.Story.Org(),
			Seed:        e.Opts.Seed,
			Months:      e.Opts.Range.Months,
		})
	}
	if err := e.loadIssueTypes(ctx); err != nil {
		return e.result, err
	}
	e.resolveAssignees(ctx)
	if err := e.Prefetch(ctx); err != nil {
		return e.result, err
	}
	if e.Opts.Sprints {
		for _, p := range e.Story.Projects {
			e.ensureSprints(ctx, p.Key)
		}
	}
	for _, p := range e.Story.Projects {
		if err := e.synthesizePortfolio(ctx, p); err != nil {
			return e.result, err
		}
	}
	e.linkEpics(ctx)

	for month := 0; month < e.Opts.Range.Months; month++ {
		arc, ok := timeline.ArcFor(e.Story.Arcs, month)
		if !ok {
			continue
		}
		e.logger().Debug("month", "index", month, "arc", arc.Name)
		for _, p := range e.Story.Projects {
			if err := e.synthesizeMonth(p, month, arc); err != nil {
				return e.result, err
			}
		}
	}
	e.synthesizeFollowups()

	flushErr := e.Flush(ctx)
	if e.Opts.Sprints {
		e.assignAllSprints(ctx)
	}
	e.result.Pending = len(e.pending)
	return e.result, flushErr
}

// Result returns the counters accumulated so far.
func (e *Engine) Result() Result {
	r := e.result
	r.Pending = len(e.pending)
	return r
}

// Pending returns records queued but not yet accepted by the tracker.
func (e *Engine) Pending() []domain.Record {
	return append([]domain.Record(nil), e.pending...)
}

func (e *Engine) loadIssueTypes(ctx context.Context) error {
	types, err := e.Client.IssueTypes(ctx)
	if err != nil {
		e.logger().Warn("issue types unavailable; using requested names", "err", err)
		return nil
	}
	e.issueTypes = map[string]bool{}
	for _, t := range types {
		e.issueTypes[t] = true
	}
	return nil
}

// issueType falls back to Task, then Story, when the tracker lacks the desired type.
func (e *Engine) issueType(desired string) string {
	if len(e.issueTypes) == 0 || e.issueTypes[desired] {
		return desired
	}
	fallback := "Story"
	if e.issueTypes["Task"] {
		fallback = "Task"
	}
	if !e.typeWarned[desired] {
		e.typeWarned[desired] = true
		e.logger().Warn("issue type not found", "type", desired, "fallback", fallback)
	}
	return fallback
}

func (e *Engine) resolveAssignees(ctx context.Context) {
	if len(e.Opts.Assignees) == 0 {
		return
	}
	e.logger().Info("resolving assignees", "count", len(e.Opts.Assignees))
	ids, err := e.Client.ResolveIdentities(ctx, e.Opts.Assignees)
	if err != nil {
		e.logger().Warn("resolve assignees failed", "err", err)
	}
	e.assignees = ids
	e.logger().Info("resolved assignees", "count", len(ids))
}
