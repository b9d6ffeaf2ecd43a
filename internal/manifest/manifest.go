package manifest

import (
	"encoding/json"
	"os"
	"time"

	"storyseed/internal/domain"
)

type (
	ProjectKey string
	TeamID     string
	MonthKey   string
	Service    string
	DwellState string
	Bucket     string
)

const (
	StateInProgress DwellState = "In Progress"
	StateInReview   DwellState = "In Review"
	StateBlocked    DwellState = "Blocked"
)

const (
	Bucket0To1   Bucket = "0-1d"
	Bucket1To3   Bucket = "1-3d"
	Bucket3To7   Bucket = "3-7d"
	Bucket7To14  Bucket = "7-14d"
	Bucket14Plus Bucket = "14d+"
)

// Buckets in ascending order.
var Buckets = []Bucket{Bucket0To1, Bucket1To3, Bucket3To7, Bucket7To14, Bucket14Plus}

// BucketFor places a duration in days; upper bounds are inclusive.
func BucketFor(days float64) Bucket {
	switch {
	case days <= 1:
		return Bucket0To1
	case days <= 3:
		return Bucket1To3
	case days <= 7:
		return Bucket3To7
	case days <= 14:
		return Bucket7To14
	default:
		return Bucket14Plus
	}
}

// KindCounts counts records per kind.
type KindCounts map[domain.Kind]int

// Total sums every kind.
func (k KindCounts) Total() int {
	n := 0
	for _, v := range k {
		n += v
	}
	return n
}

// Meta describes the run that produced the manifest.
type Meta struct {
	GeneratedAt string `json:"generated_at"`
	Org         string `json:"org,omitempty"`
	Seed        string `json:"seed"`
	Months      int    `json:"months"`
}

// Document is the serialized manifest. Maps marshal with sorted keys.
type Document struct {
	Meta   Meta `json:"meta"`
	Counts struct {
		ByProject map[ProjectKey]KindCounts `json:"by_project"`
		ByTeam    map[TeamID]KindCounts     `json:"by_team"`
		ByMonth   map[MonthKey]KindCounts   `json:"by_month"`
	} `json:"counts"`
	Incidents struct {
		SeverityByMonth map[MonthKey]map[string]int `json:"severity_by_month"`
	} `json:"incidents"`
	Dwell struct {
		Histogram map[DwellState]map[Bucket]int `json:"histogram"`
	} `json:"dwell"`
	Hotspots struct {
		ServiceCounts map[Service]int `json:"service_counts"`
	} `json:"hotspots"`
	Dependencies struct {
		CrossProjectEpics int `json:"cross_project_epics"`
	} `json:"dependencies"`
}

// Manifest accumulates run statistics. Its methods are the only mutation surface.
type Manifest struct {
	doc Document
}

// New returns an empty manifest.
func New(meta Meta) *Manifest {
	m := &Manifest{}
	m.doc.Meta = meta
	m.doc.Counts.ByProject = map[ProjectKey]KindCounts{}
	m.doc.Counts.ByTeam = map[TeamID]KindCounts{}
	m.doc.Counts.ByMonth = map[MonthKey]KindCounts{}
	m.doc.Incidents.SeverityByMonth = map[MonthKey]map[string]int{}
	m.doc.Dwell.Histogram = map[DwellState]map[Bucket]int{}
	m.doc.Hotspots.ServiceCounts = map[Service]int{}
	return m
}

// RecordIssue counts one synthesized record. Severity is tallied only for incidents.
func (m *Manifest) RecordIssue(project ProjectKey, team TeamID, kind domain.Kind, createdAt time.Time, service Service, severity string) {
	month := MonthKey(createdAt.UTC().Format("2006-01"))
	bump(m.doc.Counts.ByProject, project, kind)
	bump(m.doc.Counts.ByTeam, team, kind)
	bump(m.doc.Counts.ByMonth, month, kind)
	if kind == domain.KindIncident && severity != "" {
		sev := m.doc.Incidents.SeverityByMonth[month]
		if sev == nil {
			sev = map[string]int{}
			m.doc.Incidents.SeverityByMonth[month] = sev
		}
		sev[severity]++
	}
	m.doc.Hotspots.ServiceCounts[service]++
}

// RecordDwell adds one duration to the state histogram.
func (m *Manifest) RecordDwell(state DwellState, days float64) {
	h := m.doc.Dwell.Histogram[state]
	if h == nil {
		h = map[Bucket]int{}
		m.doc.Dwell.Histogram[state] = h
	}
	h[BucketFor(days)]++
}

// RecordCrossProjectLink counts one accepted epic dependency.
func (m *Manifest) RecordCrossProjectLink() {
	m.doc.Dependencies.CrossProjectEpics++
}

// ProjectCounts returns a copy of the per-kind counts for a project.
func (m *Manifest) ProjectCounts(project ProjectKey) KindCounts {
	out := KindCounts{}
	for k, v := range m.doc.Counts.ByProject[project] {
		out[k] = v
	}
	return out
}

// Dwell returns the histogram count for a state and bucket.
func (m *Manifest) Dwell(state DwellState, bucket Bucket) int {
	return m.doc.Dwell.Histogram[state][bucket]
}

// CrossProjectLinks returns the accepted dependency count.
func (m *Manifest) CrossProjectLinks() int {
	return m.doc.Dependencies.CrossProjectEpics
}

// Document returns the serializable view.
func (m *Manifest) Document() Document {
	return m.doc
}

// MarshalJSON encodes the manifest with sorted keys.
func (m *Manifest) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.doc)
}

// Encode returns the indented manifest document.
func (m *Manifest) Encode() ([]byte, error) {
	b, err := json.MarshalIndent(m.doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// WriteFile writes the manifest once at the end of a run.
func (m *Manifest) WriteFile(path string) error {
	b, err := m.Encode()
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// Decode parses a stored manifest document.
func Decode(data []byte) (Document, error) {
	var d Document
	err := json.Unmarshal(data, &d)
	return d, err
}

func bump[K comparable](m map[K]KindCounts, key K, kind domain.Kind) {
	c := m[key]
	if c == nil {
		c = KindCounts{}
		m[key] = c
	}
	c[kind]++
}
