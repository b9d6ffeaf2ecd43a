package engine

import (
	"context"
	"fmt"
	"strconv"

	"storyseed/internal/config"
	"storyseed/internal/domain"
	"storyseed/internal/identity"
	"storyseed/internal/manifest"
)

const (
	portfolioYears     = 2
	initiativesPerYear = 2
	portfolioQuarters  = 8
	epicsPerQuarter    = 3
	portfolioArc       = "Launch"
	initiativeService  = "svc-a"
	epicService        = "svc-b"
)

// EpicRef identifies a synthesized epic for cross-project linking.
type EpicRef struct {
	Project    string
	ExternalID string
}

// synthesizePortfolio creates the initiatives and epics of one project right
// away so their keys are known before epics are linked.
func (e *Engine) synthesizePortfolio(ctx context.Context, p config.Project) error {
	var batch []domain.Record
	for year := 0; year < portfolioYears; year++ {
		for idx := 0; idx < initiativesPerYear; idx++ {
			month := year*12 + e.stream.IntRange(0, 11)
			ext := identity.ExternalID(p.Key, "init", strconv.Itoa(year), strconv.Itoa(idx))
			rec, fresh := e.portfolioRecord(p, domain.KindInitiative, ext, month, initiativeService)
			if fresh {
				rec.Summary = fmt.Sprintf("Initiative %d-%d for %s", year+1, idx+1, p.Key)
				rec.Body = "Seeded initiative for portfolio tracking."
				batch = append(batch, rec)
			}
		}
	}
	for quarter := 0; quarter < portfolioQuarters; quarter++ {
		for idx := 0; idx < epicsPerQuarter; idx++ {
			month := quarter*3 + e.stream.IntRange(0, 2)
			ext := identity.ExternalID(p.Key, "epic", strconv.Itoa(quarter), strconv.Itoa(idx))
			rec, fresh := e.portfolioRecord(p, domain.KindEpic, ext, month, epicService)
			e.epics = append(e.epics, EpicRef{Project: p.Key, ExternalID: ext})
			if fresh {
				rec.Summary = fmt.Sprintf("Epic Q%d-%d for %s", quarter+1, idx+1, p.Key)
				rec.Body = "Seeded epic for roadmap structure."
				batch = append(batch, rec)
			}
		}
	}
	for start := 0; start < len(batch); start += e.Opts.BatchSize {
		end := min(start+e.Opts.BatchSize, len(batch))
		if failed := e.createRecords(ctx, batch[start:end]); len(failed) > 0 {
			e.pending = append(e.pending, failed...)
		}
	}
	return nil
}

// portfolioRecord draws the timestamp and assignee of a portfolio item and
// records it. fresh is false when the item already exists.
func (e *Engine) portfolioRecord(p config.Project, kind domain.Kind, ext string, month int, service string) (domain.Record, bool) {
	created := e.Opts.Range.Timestamp(e.stream, month)
	e.Manifest.RecordIssue(manifest.ProjectKey(p.Key), manifest.TeamID(p.TeamID), kind, created, manifest.Service(service), "")
	e.result.Synthesized++
	assignee := e.drawAssignee()
	if !e.claim(p.Key, ext) {
		return domain.Record{}, false
	}
	return domain.Record{
		ExternalID: ext,
		ProjectKey: p.Key,
		Kind:       kind,
		TeamID:     p.TeamID,
		Labels:     Labels(ext, p.TeamID, "feature", "product", service, "launch", ""),
		CreatedAt:  created,
		Arc:        portfolioArc,
		Month:      month,
		Service:    service,
		Assignee:   assignee,
	}, true
}
