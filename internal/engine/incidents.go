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
	followupsMin = 3
	followupsMax = 8
	recoveryArc  = "Recovery"
)

var (
	followupWorkTypes   = []string{"refactor", "maintenance"}
	followupInvestments = []string{"reliability", "ops", "platform"}
)

// synthesizeIncident emits one incident. High-severity incidents queue a
// follow-up obligation even when the incident itself already exists.
func (e *Engine) synthesizeIncident(p config.Project, month, idx int, arc config.Arc) {
	project := p.Key
	if e.Story.IncidentProjectKey != "" {
		project = e.Story.IncidentProjectKey
	}
	team := p.TeamID
	created := e.Opts.Range.Timestamp(e.stream, month)
	severity := sample.Uniform(e.stream, domain.Severities)
	service := sample.Uniform(e.stream, e.Story.Services)

	e.Manifest.RecordIssue(manifest.ProjectKey(project), manifest.TeamID(team), domain.KindIncident, created, manifest.Service(service), severity)
	e.result.Synthesized++
	e.simulateDwell(arc.DwellProfile)
	assignee := e.drawAssignee()
	comment := e.drawComment()

	parts := []string{"incident", project, strconv.Itoa(month), team, strconv.Itoa(idx)}
	if project != p.Key {
		// Several source projects can share a team and the incident project.
		parts = append(parts, p.Key)
	}
	ext := identity.ExternalID(parts...)
	if domain.SpawnsFollowups(severity) {
		e.followups = append(e.followups, domain.FollowupSpec{
			IncidentExternalID: ext,
			TeamID:             team,
			Service:            service,
			Month:              month,
		})
	}
	if !e.claim(project, ext) {
		return
	}
	e.pending = append(e.pending, domain.Record{
		ExternalID: ext,
		ProjectKey: project,
		Kind:       domain.KindIncident,
		Summary:    fmt.Sprintf("Incident %s on %s", strings.ToUpper(severity), service),
		Body:       fmt.Sprintf("Seeded incident during %s phase.", arc.Name),
		TeamID:     team,
		Labels:     Labels(ext, team, "unplanned", "reliability", service, arc.Slug(), severity),
		CreatedAt:  created,
		Arc:        arc.Name,
		Month:      month,
		Severity:   severity,
		Service:    service,
		Assignee:   assignee,
		Comment:    comment,
	})
}

// synthesizeFollowups materializes every queued obligation into 3 to 8
// remediation records dated into the recovery months.
func (e *Engine) synthesizeFollowups() {
	if !e.Opts.Incidents {
		return
	}
	recovery := e.Story.Recovery()
	for _, spec := range e.followups {
		project, ok := e.Story.PrimaryProject(spec.TeamID)
		if !ok {
			e.logger().Debug("no primary project for follow-ups", "team", spec.TeamID)
			continue
		}
		count := e.stream.IntRange(followupsMin, followupsMax)
		for idx := 0; idx < count; idx++ {
			e.synthesizeFollowup(project, spec, idx, recovery)
		}
	}
}

func (e *Engine) synthesizeFollowup(project string, spec domain.FollowupSpec, idx int, recovery []int) {
	month := sample.Uniform(e.stream, recovery)
	created := e.Opts.Range.Timestamp(e.stream, month)
	workType := sample.Uniform(e.stream, followupWorkTypes)
	investment := sample.Uniform(e.stream, followupInvestments)

	e.Manifest.RecordIssue(manifest.ProjectKey(project), manifest.TeamID(spec.TeamID), domain.KindFollowup, created, manifest.Service(spec.Service), "")
	e.result.Synthesized++
	e.result.Followups++
	assignee := e.drawAssignee()
	comment := e.drawComment()

	ext := identity.ExternalID("followup", spec.IncidentExternalID, strconv.Itoa(idx))
	if !e.claim(project, ext) {
		return
	}
	e.pending = append(e.pending, domain.Record{
		ExternalID: ext,
		ProjectKey: project,
		Kind:       domain.KindFollowup,
		Summary:    "Postmortem follow-up on " + spec.Service,
		Body:       "Seeded postmortem follow-up task.",
		TeamID:     spec.TeamID,
		Labels:     Labels(ext, spec.TeamID, workType, investment, spec.Service, "recovery", ""),
		CreatedAt:  created,
		Arc:        recoveryArc,
		Month:      month,
		Service:    spec.Service,
		Assignee:   assignee,
		Comment:    comment,
		Link:       &domain.Link{Kind: domain.LinkRelates, ExternalID: spec.IncidentExternalID},
	})
}

// Followups returns the queued follow-up obligations.
func (e *Engine) Followups() []domain.FollowupSpec {
	return append([]domain.FollowupSpec(nil), e.followups...)
}
