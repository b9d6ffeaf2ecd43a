package config

import "fmt"

// GenerateExample returns a starter story YAML for an org.
func GenerateExample(org string) string {
	return fmt.Sprintf(exampleTemplate, org)
}

// Example returns the parsed starter story.
func Example(org string) *Story {
	s, err := FromYAML([]byte(GenerateExample(org)))
	if err != nil {
		panic(fmt.Sprintf("example story invalid: %v", err))
	}
	return s
}

const exampleTemplate = `org_slug: %s

projects:
  - key: APP
    team_id: web
  - key: PLAT
    team_id: platform

teams:
  - id: web
    primary_project: APP
  - id: platform
    primary_project: PLAT
    shared_project: APP

services: [checkout, search, auth, billing]

incident_project_key: PLAT

arcs:
  - name: Launch
    start_month: 0
    end_month: 7
    monthly_volume_mean: 30
    monthly_volume_std: 6
    incident_rate: 0.05
    issue_type_mix: {story: 5, task: 3, bug: 2, incident: 1}
    work_type_mix: {feature: 6, maintenance: 2, refactor: 1}
    investment_mix: {product: 6, platform: 2, reliability: 1}
    dwell_profile:
      review_days_mean: 1.5
      blocked_days_mean: 0.8

  - name: Scale Pain
    start_month: 8
    end_month: 15
    monthly_volume_mean: 40
    monthly_volume_std: 8
    incident_rate: 0.12
    issue_type_mix: {story: 3, task: 3, bug: 4, incident: 2}
    work_type_mix: {feature: 3, maintenance: 3, refactor: 2, unplanned: 2}
    investment_mix: {product: 3, platform: 3, reliability: 3, ops: 1}
    dwell_profile:
      review_days_mean: 3.5
      blocked_days_mean: 2.5

  - name: Recovery
    start_month: 16
    end_month: 23
    monthly_volume_mean: 35
    monthly_volume_std: 5
    incident_rate: 0.04
    issue_type_mix: {story: 4, task: 4, bug: 2, incident: 1}
    work_type_mix: {feature: 4, maintenance: 2, refactor: 3}
    investment_mix: {product: 4, platform: 3, reliability: 3}
    dwell_profile:
      review_days_mean: 2.0
      blocked_days_mean: 1.0
`
