package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"storyseed/internal/config"
	"storyseed/internal/domain"
	"storyseed/internal/engine"
	"storyseed/internal/events"
	"storyseed/internal/manifest"
	"storyseed/internal/timeline"
	"storyseed/internal/tracker"
)

// Tracker targets.
const (
	TargetJira   = "jira"
	TargetLocal  = "local"
	TargetMemory = "memory"
)

type JiraConfig struct {
	BaseURL string
	User    string
	Token   string
}

// GenerateParams is the full configuration surface of one run.
type GenerateParams struct {
	Workspace     string
	StoryPath     string
	Story         *config.Story
	Seed          string
	StartDate     string
	EndDate       string
	MonthlyVolume *int
	BatchSize     int
	Sprints       bool
	Transitions   bool
	Comments      bool
	Incidents     bool
	Assignees     []string
	Target        string
	Jira          JiraConfig
	ManifestPath  string
	Logger        *slog.Logger
	Now           func() time.Time
}

type GenerateResult struct {
	Run      domain.Run
	Result   engine.Result
	Manifest *manifest.Manifest
	Client   tracker.Client
}

func (p GenerateParams) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p GenerateParams) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Generate loads the story, runs the engine against the selected tracker,
// writes the manifest and records the run. Runs against the local or Jira
// target are stored in the workspace; memory runs leave no trace.
func Generate(ctx context.Context, p GenerateParams) (GenerateResult, error) {
	var out GenerateResult
	story := p.Story
	if story == nil {
		s, err := config.FromFile(p.StoryPath)
		if err != nil {
			return out, err
		}
		story = s
	}
	if strings.TrimSpace(p.Seed) == "" {
		return out, fmt.Errorf("%w: --seed is required", config.ErrConfiguration)
	}
	rng, err := timeline.Resolve(p.StartDate, p.EndDate, p.now())
	if err != nil {
		return out, err
	}
	target := p.Target
	if target == "" {
		target = TargetMemory
	}

	var ws *Workspace
	if target != TargetMemory {
		ws, err = OpenWorkspace(ctx, p.Workspace)
		if err != nil {
			return out, err
		}
		defer ws.Close()
	}
	client, err := newClient(target, p, ws)
	if err != nil {
		return out, err
	}
	out.Client = client

	e, err := engine.New(story, engine.Options{
		Seed:          p.Seed,
		Range:         rng,
		MonthlyVolume: p.MonthlyVolume,
		BatchSize:     p.BatchSize,
		Sprints:       p.Sprints,
		Transitions:   p.Transitions,
		Comments:      p.Comments,
		Incidents:     p.Incidents,
		Assignees:     p.Assignees,
	}, client)
	if err != nil {
		return out, err
	}
	e.Logger = p.logger()
	e.Now = p.now

	run := domain.Run{
		ID:        uuid.NewString(),
		Org:       story.Org(),
		Seed:      p.Seed,
		Target:    target,
		Months:    rng.Months,
		StartedAt: p.now().UTC().Format(time.RFC3339),
	}
	if ws != nil {
		if err := ws.Repo.InsertRun(ctx, run); err != nil {
			return out, fmt.Errorf("record run: %w", err)
		}
		if err := (events.Writer{Now: p.Now}).Append(ctx, ws.DB, events.RunStarted, "", "run", run.ID, events.EventPayload{"seed": p.Seed, "target": target}); err != nil {
			p.logger().Warn("append run event failed", "run", run.ID, "type", events.RunStarted, "err", err)
		}
	}
	p.logger().Info("generating", "org", run.Org, "seed", p.Seed, "months", rng.Months, "target", target,
		"start", rng.Start.Format("2006-01-02"), "end", rng.End.Format("2006-01-02"))

	res, runErr := e.Run(ctx)
	out.Result = res
	out.Manifest = e.Manifest
	if runErr != nil && !errors.Is(runErr, engine.ErrIncomplete) {
		return out, runErr
	}

	if p.ManifestPath != "" {
		if err := e.Manifest.WriteFile(p.ManifestPath); err != nil {
			return out, fmt.Errorf("write manifest: %w", err)
		}
		p.logger().Info("manifest written", "path", p.ManifestPath)
	}
	encoded, err := e.Manifest.Encode()
	if err != nil {
		return out, err
	}
	run.Synthesized = res.Synthesized
	run.Created = res.Created
	run.Skipped = res.Skipped
	run.Pending = res.Pending
	run.ManifestJSON = string(encoded)
	run.FinishedAt = p.now().UTC().Format(time.RFC3339)
	out.Run = run
	if ws != nil {
		if err := ws.Repo.FinishRun(ctx, run); err != nil {
			return out, fmt.Errorf("record run: %w", err)
		}
		if err := (events.Writer{Now: p.Now}).Append(ctx, ws.DB, events.RunFinished, "", "run", run.ID, events.EventPayload{
			"created": res.Created, "skipped": res.Skipped, "pending": res.Pending,
		}); err != nil {
			p.logger().Warn("append run event failed", "run", run.ID, "type", events.RunFinished, "err", err)
		}
	}
	p.logger().Info("done", "synthesized", res.Synthesized, "created", res.Created, "skipped", res.Skipped,
		"pending", res.Pending, "links", res.Links, "followups", res.Followups)
	return out, runErr
}

func newClient(target string, p GenerateParams, ws *Workspace) (tracker.Client, error) {
	switch target {
	case TargetMemory:
		return tracker.NewMemory(), nil
	case TargetLocal:
		s := tracker.NewStore(ws.Repo)
		s.Now = p.Now
		s.Events.Now = p.Now
		return s, nil
	case TargetJira:
		if p.Jira.BaseURL == "" || p.Jira.User == "" || p.Jira.Token == "" {
			return nil, fmt.Errorf("%w: jira target needs --jira-url, --jira-user and JIRA_TOKEN", config.ErrConfiguration)
		}
		c := tracker.NewHTTP(p.Jira.BaseURL, p.Jira.User, p.Jira.Token)
		c.Logger = p.logger()
		return c, nil
	default:
		return nil, fmt.Errorf("%w: unknown target %q (jira, local, memory)", config.ErrConfiguration, target)
	}
}
