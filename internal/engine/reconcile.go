package engine

import (
	"context"
	"fmt"

	"storyseed/internal/domain"
	"storyseed/internal/tracker"
)

// Prefetch loads previously seeded external ids for every project and the
// incident project. Already-seen ids are never queued again.
func (e *Engine) Prefetch(ctx context.Context) error {
	keys := e.Story.ProjectKeys()
	if ip := e.Story.IncidentProjectKey; ip != "" && !contains(keys, ip) {
		keys = append(keys, ip)
	}
	for _, key := range keys {
		found, err := e.Client.FindExisting(ctx, key)
		if err != nil {
			return fmt.Errorf("find existing records in %s: %w", key, err)
		}
		set := e.existingSet(key)
		for ext, sysKey := range found {
			set[ext] = true
			if sysKey != "" {
				e.keyByExt[ext] = sysKey
			}
		}
		if len(found) > 0 {
			e.logger().Info("found existing seeded records", "project", key, "count", len(found))
		}
	}
	return nil
}

func (e *Engine) existingSet(project string) map[string]bool {
	set := e.existing[project]
	if set == nil {
		set = map[string]bool{}
		e.existing[project] = set
	}
	return set
}

// claim reports whether ext is new for project and marks it seen.
func (e *Engine) claim(project, ext string) bool {
	set := e.existingSet(project)
	if set[ext] {
		e.result.Skipped++
		return false
	}
	set[ext] = true
	return true
}

// Flush sends pending records in batches. Records whose batch fails stay
// pending, so Flush can be called again without re-synthesizing.
func (e *Engine) Flush(ctx context.Context) error {
	queue := e.pending
	e.pending = nil
	for start := 0; start < len(queue); start += e.Opts.BatchSize {
		end := start + e.Opts.BatchSize
		if end > len(queue) {
			end = len(queue)
		}
		e.pending = append(e.pending, e.processBatch(ctx, queue[start:end])...)
	}
	e.resolveLinks(ctx)
	if len(e.pending) > 0 {
		return fmt.Errorf("%w: %d records", ErrIncomplete, len(e.pending))
	}
	return nil
}

// processBatch creates one batch, grouped per project in first-seen order,
// and returns the records the tracker did not accept.
func (e *Engine) processBatch(ctx context.Context, batch []domain.Record) []domain.Record {
	var order []string
	grouped := map[string][]domain.Record{}
	for _, rec := range batch {
		if _, ok := grouped[rec.ProjectKey]; !ok {
			order = append(order, rec.ProjectKey)
		}
		grouped[rec.ProjectKey] = append(grouped[rec.ProjectKey], rec)
	}
	var failed []domain.Record
	for _, project := range order {
		failed = append(failed, e.createRecords(ctx, grouped[project])...)
	}
	return failed
}

// createRecords sends one creation call and materializes side effects for
// every accepted record.
func (e *Engine) createRecords(ctx context.Context, items []domain.Record) []domain.Record {
	issues := make([]tracker.Issue, 0, len(items))
	for _, rec := range items {
		issues = append(issues, tracker.Issue{
			ProjectKey:  rec.ProjectKey,
			IssueType:   e.issueType(rec.Kind.IssueType()),
			Summary:     rec.Summary,
			Description: rec.Body,
			Labels:      rec.Labels,
			Assignee:    rec.Assignee,
			CreatedAt:   rec.CreatedAt,
		})
	}
	created, err := e.Client.CreateBatch(ctx, issues)
	if err != nil {
		e.logger().Error("create batch failed", "project", items[0].ProjectKey, "size", len(items), "err", err)
		return items
	}
	keys := matchCreated(items, created)
	var failed []domain.Record
	for i, rec := range items {
		if keys[i] == "" {
			failed = append(failed, rec)
			continue
		}
		rec.SystemKey = keys[i]
		e.materialize(ctx, rec, issues[i].IssueType)
	}
	if len(failed) > 0 {
		e.logger().Warn("partial batch", "project", items[0].ProjectKey, "submitted", len(items), "accepted", len(items)-len(failed))
	}
	return failed
}

// matchCreated pairs results with inputs by external id, falling back to position.
func matchCreated(items []domain.Record, created []tracker.Created) []string {
	keys := make([]string, len(items))
	byExt := map[string]string{}
	positional := true
	for _, c := range created {
		if c.ExternalID == "" {
			continue
		}
		positional = false
		byExt[c.ExternalID] = c.Key
	}
	if positional {
		for i := range created {
			if i < len(items) {
				keys[i] = created[i].Key
			}
		}
		return keys
	}
	for i, rec := range items {
		keys[i] = byExt[rec.ExternalID]
	}
	return keys
}

func (e *Engine) materialize(ctx context.Context, rec domain.Record, issueType string) {
	key := rec.SystemKey
	e.keyByExt[rec.ExternalID] = key
	e.newInRun[rec.ExternalID] = true
	e.result.Created++

	if err := e.Client.SetMetadata(ctx, key, rec.Meta(issueType)); err != nil {
		e.logger().Warn("set metadata failed", "key", key, "err", err)
	}
	if e.Opts.Comments && rec.Comment {
		text := fmt.Sprintf("Seeder note: progress update during %s phase.", rec.Arc)
		if err := e.Client.AddComment(ctx, key, text); err != nil {
			e.logger().Warn("add comment failed", "key", key, "err", err)
		}
	}
	if e.Opts.Transitions && rec.Kind != domain.KindEpic && rec.Kind != domain.KindInitiative {
		if err := e.Client.Transition(ctx, key, rec.Kind.TargetStatus()); err != nil {
			e.logger().Warn("transition failed", "key", key, "err", err)
		}
	}
	if rec.Kind.Sprintable() {
		months := e.byMonth[rec.ProjectKey]
		if months == nil {
			months = map[int][]string{}
			e.byMonth[rec.ProjectKey] = months
		}
		months[rec.Month] = append(months[rec.Month], key)
	}
	if rec.Link != nil {
		e.deferred = append(e.deferred, rec)
	}
}

// resolveLinks creates deferred links once every batch of a flush is in,
// so a target created later in the same flush is still found. Links whose
// target is still pending wait for the next Flush.
func (e *Engine) resolveLinks(ctx context.Context) {
	waiting := map[string]bool{}
	for _, rec := range e.pending {
		waiting[rec.ExternalID] = true
	}
	var keep []domain.Record
	for _, rec := range e.deferred {
		target, ok := e.keyByExt[rec.Link.ExternalID]
		if !ok {
			if waiting[rec.Link.ExternalID] {
				keep = append(keep, rec)
			}
			continue
		}
		if err := e.Client.CreateLink(ctx, rec.Link.Kind, rec.SystemKey, target); err != nil {
			e.logger().Warn("create link failed", "kind", rec.Link.Kind, "from", rec.SystemKey, "to", target, "err", err)
			continue
		}
		e.result.Links++
	}
	e.deferred = keep
}

func contains(items []string, want string) bool {
	for _, it := range items {
		if it == want {
			return true
		}
	}
	return false
}
