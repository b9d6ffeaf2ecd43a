package manifest

import (
	"bytes"
	"testing"
	"time"

	"storyseed/internal/domain"
)

func TestBucketBoundaries(t *testing.T) {
	cases := map[float64]Bucket{
		0.2:   Bucket0To1,
		1.0:   Bucket0To1,
		1.01:  Bucket1To3,
		3.0:   Bucket1To3,
		7.0:   Bucket3To7,
		14.0:  Bucket7To14,
		14.01: Bucket14Plus,
	}
	for days, want := range cases {
		if got := BucketFor(days); got != want {
			t.Fatalf("BucketFor(%v) = %s, want %s", days, got, want)
		}
	}
}

func TestRecordIssueAggregates(t *testing.T) {
	m := New(Meta{Seed: "s", Months: 2})
	ts := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	m.RecordIssue("APP", "web", domain.KindStory, ts, "checkout", "")
	m.RecordIssue("APP", "web", domain.KindBug, ts, "checkout", domain.Sev2)
	m.RecordIssue("APP", "ops", domain.KindIncident, ts, "auth", domain.Sev1)
	counts := m.ProjectCounts("APP")
	if counts.Total() != 3 || counts[domain.KindBug] != 1 {
		t.Fatalf("project counts = %v", counts)
	}
	doc := m.Document()
	if doc.Incidents.SeverityByMonth["2024-03"][domain.Sev1] != 1 {
		t.Fatalf("incident severity not counted: %v", doc.Incidents.SeverityByMonth)
	}
	if _, ok := doc.Incidents.SeverityByMonth["2024-03"][domain.Sev2]; ok {
		t.Fatalf("bug severity leaked into incident histogram")
	}
	if doc.Hotspots.ServiceCounts["checkout"] != 2 {
		t.Fatalf("service counts = %v", doc.Hotspots.ServiceCounts)
	}
	if doc.Counts.ByTeam["ops"][domain.KindIncident] != 1 {
		t.Fatalf("team counts = %v", doc.Counts.ByTeam)
	}
}

func TestEncodeIsOrderIndependent(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := New(Meta{Seed: "x"})
	a.RecordIssue("B", "t2", domain.KindTask, ts, "s2", "")
	a.RecordIssue("A", "t1", domain.KindStory, ts, "s1", "")
	a.RecordDwell(StateInReview, 2)
	a.RecordDwell(StateBlocked, 9)
	b := New(Meta{Seed: "x"})
	b.RecordDwell(StateBlocked, 9)
	b.RecordIssue("A", "t1", domain.KindStory, ts, "s1", "")
	b.RecordDwell(StateInReview, 2)
	b.RecordIssue("B", "t2", domain.KindTask, ts, "s2", "")
	ab, _ := a.Encode()
	bb, _ := b.Encode()
	if !bytes.Equal(ab, bb) {
		t.Fatalf("encodings differ:\n%s\n%s", ab, bb)
	}
	doc, err := Decode(ab)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Dwell.Histogram[StateBlocked][Bucket7To14] != 1 {
		t.Fatalf("decoded histogram = %v", doc.Dwell.Histogram)
	}
}
