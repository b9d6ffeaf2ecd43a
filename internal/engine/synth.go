package engine

import (
	"fmt"
	"strconv"
	"strings"

	"storyseed/internal/config"
	"storyseed/internal/domain"
	"storyseed/internal/identity"
	"storyseed/internal/manifest"
	"storyseed/internal/sample"
)

const (
	sharedOwnerChance = 0.15
	extraTeamChance   = 0.10
	assignChance      = 0.9
	commentChance     = 0.25
)

// Volume is the record count for one project-month: the override floored at
// 1, or a Gaussian draw floored at 1.
func (e *Engine) Volume(arc config.Arc) int {
	if e.Opts.MonthlyVolume != nil {
		return max(1, *e.Opts.MonthlyVolume)
	}
	return max(1, int(e.stream.Gauss(arc.MonthlyVolumeMean, arc.MonthlyVolumeStd)))
}

// synthesizeMonth emits the work units and incidents of one project-month.
func (e *Engine) synthesizeMonth(p config.Project, month int, arc config.Arc) error {
	volume := e.Volume(arc)
	incidents := 0
	if e.Opts.Incidents {
		incidents = int(float64(volume) * arc.IncidentRate)
	}
	typeMix := sample.Without(arc.IssueTypeMix, "incident")
	for idx := 0; idx < volume-incidents; idx++ {
		if err := e.synthesizeWork(p, month, idx, arc, typeMix); err != nil {
			return fmt.Errorf("%s month %d: %w", p.Key, month, err)
		}
	}
	for idx := 0; idx < incidents; idx++ {
		e.synthesizeIncident(p, month, idx, arc)
	}
	return nil
}

func (e *Engine) synthesizeWork(p config.Project, month, idx int, arc config.Arc, typeMix map[string]float64) error {
	mixKey, err := sample.Weighted(e.stream, typeMix)
	if err != nil {
		return fmt.Errorf("issue type: %w", err)
	}
	workType, err := sample.Weighted(e.stream, arc.WorkTypeMix)
	if err != nil {
		return fmt.Errorf("work type: %w", err)
	}
	investment, err := sample.Weighted(e.stream, arc.InvestmentMix)
	if err != nil {
		return fmt.Errorf("investment: %w", err)
	}
	service := sample.Uniform(e.stream, e.Story.Services)
	kind := domain.KindFromMix(mixKey)

	team := p.TeamID
	shared := e.sharedTeams[p.Key]
	extraTeam := ""
	if len(shared) > 0 && e.stream.Chance(sharedOwnerChance) {
		team = sample.Uniform(e.stream, shared)
	}
	if (kind == domain.KindStory || kind == domain.KindTask) && len(shared) > 0 && e.stream.Chance(extraTeamChance) {
		extraTeam = sample.Uniform(e.stream, shared)
	}
	created := e.Opts.Range.Timestamp(e.stream, month)
	severity := ""
	if kind == domain.KindBug {
		severity = sample.Uniform(e.stream, domain.Severities)
	}

	e.Manifest.RecordIssue(manifest.ProjectKey(p.Key), manifest.TeamID(team), kind, created, manifest.Service(service), severity)
	e.result.Synthesized++
	e.simulateDwell(arc.DwellProfile)
	assignee := e.drawAssignee()
	comment := e.drawComment()

	ext := identity.ExternalID(p.Key, strconv.Itoa(month), strconv.Itoa(idx), workType, strings.ToLower(string(kind)))
	if !e.claim(p.Key, ext) {
		return nil
	}
	labels := Labels(ext, team, workType, investment, service, arc.Slug(), severity)
	if extraTeam != "" && extraTeam != team {
		labels = append(labels, "team:"+extraTeam)
	}
	e.pending = append(e.pending, domain.Record{
		ExternalID: ext,
		ProjectKey: p.Key,
		Kind:       kind,
		Summary:    fmt.Sprintf("%s %s for %s", title(workType), kind, p.Key),
		Body:       fmt.Sprintf("Seeded %s during %s phase.", strings.ToLower(string(kind)), arc.Name),
		TeamID:     team,
		Labels:     labels,
		CreatedAt:  created,
		Arc:        arc.Name,
		Month:      month,
		Severity:   severity,
		Service:    service,
		Assignee:   assignee,
		Comment:    comment,
	})
	return nil
}

// drawAssignee picks an owner for 90% of records when assignees were resolved.
func (e *Engine) drawAssignee() string {
	if len(e.assignees) == 0 {
		return ""
	}
	if !e.stream.Chance(assignChance) {
		return ""
	}
	return sample.Uniform(e.stream, e.assignees)
}

func (e *Engine) drawComment() bool {
	if !e.Opts.Comments {
		return false
	}
	return e.stream.Chance(commentChance)
}

// Labels builds the tracker labels carried by every seeded record.
func Labels(ext, team, workType, investment, service, arcSlug, severity string) []string {
	labels := []string{
		domain.SeededLabel,
		identity.Label(ext),
		"team:" + team,
		"work_type:" + workType,
		"investment:" + investment,
		"service:" + service,
		"story_arc:" + arcSlug,
	}
	if severity != "" {
		labels = append(labels, "severity:"+severity)
	}
	return labels
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}
