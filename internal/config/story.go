package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"storyseed/internal/sample"
)

// ErrConfiguration marks fatal story or run configuration problems.
var ErrConfiguration = errors.New("configuration error")

// DefaultRecoveryMonths are the month indices follow-ups are dated into.
var DefaultRecoveryMonths = []int{16, 17, 18, 19}

// Story models the narrative story file.
type Story struct {
	OrgSlug            string    `yaml:"org_slug" json:"org_slug"`
	Projects           []Project `yaml:"projects" json:"projects"`
	Teams              []Team    `yaml:"teams" json:"teams"`
	Arcs               []Arc     `yaml:"arcs" json:"arcs"`
	Services           []string  `yaml:"services" json:"services"`
	IncidentProjectKey string    `yaml:"incident_project_key,omitempty" json:"incident_project_key,omitempty"`
	RecoveryMonths     []int     `yaml:"recovery_months,omitempty" json:"recovery_months,omitempty"`
}

type Project struct {
	Key    string `yaml:"key" json:"key"`
	TeamID string `yaml:"team_id" json:"team_id"`
}

type Team struct {
	ID             string `yaml:"id" json:"id"`
	PrimaryProject string `yaml:"primary_project" json:"primary_project"`
	SharedProject  string `yaml:"shared_project,omitempty" json:"shared_project,omitempty"`
}

// Arc is a narrative phase covering an inclusive month range.
type Arc struct {
	Name              string             `yaml:"name" json:"name"`
	StartMonth        int                `yaml:"start_month" json:"start_month"`
	EndMonth          int                `yaml:"end_month" json:"end_month"`
	MonthlyVolumeMean float64            `yaml:"monthly_volume_mean" json:"monthly_volume_mean"`
	MonthlyVolumeStd  float64            `yaml:"monthly_volume_std" json:"monthly_volume_std"`
	IssueTypeMix      map[string]float64 `yaml:"issue_type_mix" json:"issue_type_mix"`
	WorkTypeMix       map[string]float64 `yaml:"work_type_mix" json:"work_type_mix"`
	InvestmentMix     map[string]float64 `yaml:"investment_mix" json:"investment_mix"`
	IncidentRate      float64            `yaml:"incident_rate" json:"incident_rate"`
	DwellProfile      DwellProfile       `yaml:"dwell_profile" json:"dwell_profile"`
}

type DwellProfile struct {
	ReviewDaysMean  float64  `yaml:"review_days_mean" json:"review_days_mean"`
	ReviewDaysStd   *float64 `yaml:"review_days_std,omitempty" json:"review_days_std,omitempty"`
	BlockedDaysMean float64  `yaml:"blocked_days_mean" json:"blocked_days_mean"`
	BlockedDaysStd  *float64 `yaml:"blocked_days_std,omitempty" json:"blocked_days_std,omitempty"`
}

// ReviewStd defaults to 0.8 days.
func (d DwellProfile) ReviewStd() float64 {
	if d.ReviewDaysStd == nil {
		return 0.8
	}
	return *d.ReviewDaysStd
}

// BlockedStd defaults to 0.5 days.
func (d DwellProfile) BlockedStd() float64 {
	if d.BlockedDaysStd == nil {
		return 0.5
	}
	return *d.BlockedDaysStd
}

// Slug is the arc name as used in labels.
func (a Arc) Slug() string {
	return slugify(a.Name)
}

// Org returns the org slug, defaulting to "org".
func (s *Story) Org() string {
	if s.OrgSlug == "" {
		return "org"
	}
	return s.OrgSlug
}

// Recovery returns the follow-up month indices.
func (s *Story) Recovery() []int {
	if len(s.RecoveryMonths) == 0 {
		return DefaultRecoveryMonths
	}
	return s.RecoveryMonths
}

// ProjectKeys lists project keys in declaration order.
func (s *Story) ProjectKeys() []string {
	keys := make([]string, 0, len(s.Projects))
	for _, p := range s.Projects {
		keys = append(keys, p.Key)
	}
	return keys
}

// PrimaryProject maps team id to its primary project.
func (s *Story) PrimaryProject(teamID string) (string, bool) {
	for _, t := range s.Teams {
		if t.ID == teamID {
			return t.PrimaryProject, t.PrimaryProject != ""
		}
	}
	return "", false
}

// SharedTeams lists teams contributing secondary effort to each project, in team order.
func (s *Story) SharedTeams() map[string][]string {
	out := map[string][]string{}
	for _, t := range s.Teams {
		if t.SharedProject != "" {
			out[t.SharedProject] = append(out[t.SharedProject], t.ID)
		}
	}
	return out
}

// Validate ensures the story meets required structure.
func (s *Story) Validate() error {
	if len(s.Projects) == 0 {
		return fmt.Errorf("%w: story.projects is required", ErrConfiguration)
	}
	seen := map[string]bool{}
	for i, p := range s.Projects {
		if p.Key == "" {
			return fmt.Errorf("%w: story.projects[%d].key is required", ErrConfiguration, i)
		}
		if seen[p.Key] {
			return fmt.Errorf("%w: duplicate project key %s", ErrConfiguration, p.Key)
		}
		seen[p.Key] = true
		if p.TeamID == "" {
			return fmt.Errorf("%w: project %s has no team_id", ErrConfiguration, p.Key)
		}
	}
	for i, t := range s.Teams {
		if t.ID == "" {
			return fmt.Errorf("%w: story.teams[%d].id is required", ErrConfiguration, i)
		}
	}
	if len(s.Services) == 0 {
		return fmt.Errorf("%w: story.services is required", ErrConfiguration)
	}
	if len(s.Arcs) == 0 {
		return fmt.Errorf("%w: story.arcs is required", ErrConfiguration)
	}
	for i, a := range s.Arcs {
		if a.Name == "" {
			return fmt.Errorf("%w: story.arcs[%d].name is required", ErrConfiguration, i)
		}
		if a.StartMonth < 0 || a.EndMonth < a.StartMonth {
			return fmt.Errorf("%w: arc %s has invalid month range %d..%d", ErrConfiguration, a.Name, a.StartMonth, a.EndMonth)
		}
		for j, b := range s.Arcs[:i] {
			if a.StartMonth <= b.EndMonth && b.StartMonth <= a.EndMonth {
				return fmt.Errorf("%w: arc %s overlaps arc %s", ErrConfiguration, a.Name, s.Arcs[j].Name)
			}
		}
		if a.IncidentRate < 0 || a.IncidentRate > 1 {
			return fmt.Errorf("%w: arc %s incident_rate must be within [0,1]", ErrConfiguration, a.Name)
		}
		if err := sample.Validate(sample.Without(a.IssueTypeMix, "incident")); err != nil {
			return fmt.Errorf("%w: arc %s issue_type_mix: %v", ErrConfiguration, a.Name, err)
		}
		if err := sample.Validate(a.WorkTypeMix); err != nil {
			return fmt.Errorf("%w: arc %s work_type_mix: %v", ErrConfiguration, a.Name, err)
		}
		if err := sample.Validate(a.InvestmentMix); err != nil {
			return fmt.Errorf("%w: arc %s investment_mix: %v", ErrConfiguration, a.Name, err)
		}
	}
	for _, m := range s.RecoveryMonths {
		if m < 0 {
			return fmt.Errorf("%w: recovery month %d is negative", ErrConfiguration, m)
		}
	}
	return nil
}

// FromYAML parses, schema-checks and validates a story from raw YAML bytes.
func FromYAML(data []byte) (*Story, error) {
	if err := checkSchema(data); err != nil {
		return nil, err
	}
	var s Story
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: invalid story yaml: %v", ErrConfiguration, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// FromFile reads a story from the given path.
func FromFile(path string) (*Story, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: story %s not found", ErrConfiguration, path)
		}
		return nil, err
	}
	return FromYAML(data)
}

func slugify(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r == ' ':
			out = append(out, '-')
		case r >= 'A' && r <= 'Z':
			out = append(out, r+('a'-'A'))
		default:
			out = append(out, r)
		}
	}
	return string(out)
}
