package engine

import (
	"context"
	"sort"

	"storyseed/internal/identity"
	"storyseed/internal/timeline"
)

// PrimaryShare of a month's records lands in its primary sprint.
const PrimaryShare = 0.8

// ensureSprints looks up the project board and creates its sprint sequence
// once. Repeated calls reuse the cache.
func (e *Engine) ensureSprints(ctx context.Context, project string) []string {
	if ids, ok := e.sprints[project]; ok {
		return ids
	}
	windows := e.Opts.Range.SprintWindows()
	ids := make([]string, len(windows))
	e.sprints[project] = ids
	board, err := e.Client.EnsureBoard(ctx, project)
	if err != nil {
		e.logger().Warn("board unavailable; sprints skipped", "project", project, "err", err)
		return ids
	}
	for i, w := range windows {
		id, err := e.Client.CreateSprint(ctx, w.Name(), board, w.Start, w.End)
		if err != nil {
			e.logger().Warn("create sprint failed", "project", project, "sprint", w.Name(), "err", err)
			continue
		}
		ids[i] = id
	}
	e.logger().Info("sprints ready", "project", project, "board", board, "count", len(ids))
	return ids
}

// SplitSprint shuffles keys and splits them into primary and spillover
// shares; the primary share is 80% of the keys, at least one.
func SplitSprint(s *identity.Stream, keys []string) (primary, spillover []string) {
	if len(keys) == 0 {
		return nil, nil
	}
	shuffled := append([]string(nil), keys...)
	identity.Shuffle(s, shuffled)
	split := max(1, int(float64(len(shuffled))*PrimaryShare))
	return shuffled[:split], shuffled[split:]
}

// assignAllSprints places each project's created records, month by month,
// into the month's primary sprint and the one after it.
func (e *Engine) assignAllSprints(ctx context.Context) {
	for _, p := range e.Story.Projects {
		byMonth := e.byMonth[p.Key]
		if len(byMonth) == 0 {
			continue
		}
		ids := e.ensureSprints(ctx, p.Key)
		if len(ids) == 0 {
			continue
		}
		months := make([]int, 0, len(byMonth))
		for m := range byMonth {
			months = append(months, m)
		}
		sort.Ints(months)
		for _, month := range months {
			primaryIdx, spillIdx := timeline.SprintSlots(month, len(ids))
			primary, spill := SplitSprint(e.stream, byMonth[month])
			e.assign(ctx, p.Key, ids[primaryIdx], primary)
			e.assign(ctx, p.Key, ids[spillIdx], spill)
		}
	}
}

func (e *Engine) assign(ctx context.Context, project, sprintID string, keys []string) {
	if len(keys) == 0 || sprintID == "" {
		return
	}
	if err := e.Client.AssignToSprint(ctx, sprintID, keys); err != nil {
		e.logger().Warn("assign to sprint failed", "project", project, "sprint", sprintID, "count", len(keys), "err", err)
		return
	}
	e.result.SprintAssignments += len(keys)
}
