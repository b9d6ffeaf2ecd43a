package engine

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"storyseed/internal/config"
	"storyseed/internal/domain"
	"storyseed/internal/identity"
	"storyseed/internal/manifest"
	"storyseed/internal/timeline"
	"storyseed/internal/tracker"
)

var fixedNow = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

func testRange(t *testing.T) timeline.Range {
	t.Helper()
	r, err := timeline.Resolve("2023-01-01", "2025-01-01", fixedNow)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func singleProjectStory() *config.Story {
	return &config.Story{
		OrgSlug:  "acme",
		Projects: []config.Project{{Key: "APP", TeamID: "web"}},
		Teams:    []config.Team{{ID: "web", PrimaryProject: "APP"}},
		Services: []string{"checkout", "search"},
		Arcs: []config.Arc{{
			Name:              "Steady",
			StartMonth:        0,
			EndMonth:          23,
			MonthlyVolumeMean: 10,
			MonthlyVolumeStd:  2,
			IssueTypeMix:      map[string]float64{"story": 2, "task": 1, "bug": 1, "incident": 1},
			WorkTypeMix:       map[string]float64{"feature": 1, "maintenance": 1},
			InvestmentMix:     map[string]float64{"product": 1},
			IncidentRate:      0.2,
			DwellProfile:      config.DwellProfile{ReviewDaysMean: 1.5, BlockedDaysMean: 0.8},
		}},
	}
}

func newEngine(t *testing.T, story *config.Story, opts Options, client tracker.Client) *Engine {
	t.Helper()
	if opts.Seed == "" {
		opts.Seed = "demo"
	}
	if opts.Range.Months == 0 {
		opts.Range = testRange(t)
	}
	e, err := New(story, opts, client)
	if err != nil {
		t.Fatal(err)
	}
	e.Now = func() time.Time { return fixedNow }
	return e
}

func encode(t *testing.T, m *manifest.Manifest) []byte {
	t.Helper()
	b, err := m.Encode()
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func extOf(is *tracker.MemoryIssue) string {
	for _, l := range is.Issue.Labels {
		if ext, ok := identity.FromLabel(l); ok {
			return ext
		}
	}
	return ""
}

func TestSingleProjectFixedVolume(t *testing.T) {
	volume := 5
	m := tracker.NewMemory()
	e := newEngine(t, singleProjectStory(), Options{MonthlyVolume: &volume}, m)
	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	counts := e.Manifest.ProjectCounts("APP")
	work := counts[domain.KindStory] + counts[domain.KindTask] + counts[domain.KindBug]
	if work != 120 {
		t.Fatalf("work records = %d, want 120", work)
	}
	if counts[domain.KindIncident] != 0 {
		t.Fatalf("incidents generated while disabled: %d", counts[domain.KindIncident])
	}
	if counts[domain.KindInitiative] != 4 || counts[domain.KindEpic] != 24 {
		t.Fatalf("portfolio counts = %v", counts)
	}
	if counts.Total() != 148 || res.Synthesized != 148 || res.Created != 148 {
		t.Fatalf("total=%d synthesized=%d created=%d", counts.Total(), res.Synthesized, res.Created)
	}
	if len(m.Issues) != 148 {
		t.Fatalf("tracker holds %d issues", len(m.Issues))
	}
	for _, is := range m.Issues {
		if is.Issue.CreatedAt.IsZero() || !is.Issue.CreatedAt.Before(fixedNow) {
			t.Fatalf("%s created_at = %v", is.Key, is.Issue.CreatedAt)
		}
	}
	if m.Calls.Sprints != 0 || m.Calls.Links != 0 {
		t.Fatalf("unexpected side calls: %+v", m.Calls)
	}
}

func TestRunIsDeterministic(t *testing.T) {
	opts := Options{Incidents: true, Sprints: true, Comments: true}
	a := newEngine(t, config.Example("acme"), opts, tracker.NewMemory())
	if _, err := a.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	b := newEngine(t, config.Example("acme"), opts, tracker.NewMemory())
	if _, err := b.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(encode(t, a.Manifest), encode(t, b.Manifest)) {
		t.Fatalf("manifests differ between identical runs")
	}
	ma, mb := a.Client.(*tracker.Memory), b.Client.(*tracker.Memory)
	if len(ma.Issues) != len(mb.Issues) {
		t.Fatalf("issue counts differ: %d vs %d", len(ma.Issues), len(mb.Issues))
	}
	for i := range ma.Issues {
		if extOf(ma.Issues[i]) != extOf(mb.Issues[i]) || ma.Issues[i].Issue.Summary != mb.Issues[i].Issue.Summary {
			t.Fatalf("issue %d differs", i)
		}
	}
}

func TestDifferentSeedsDiverge(t *testing.T) {
	a := newEngine(t, config.Example("acme"), Options{Seed: "one"}, tracker.NewMemory())
	b := newEngine(t, config.Example("acme"), Options{Seed: "two"}, tracker.NewMemory())
	if _, err := a.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(encode(t, a.Manifest), encode(t, b.Manifest)) {
		t.Fatalf("different seeds produced identical manifests")
	}
}

func TestResumeCreatesNothing(t *testing.T) {
	m := tracker.NewMemory()
	opts := Options{Incidents: true, Sprints: true, Transitions: true}
	first := newEngine(t, config.Example("acme"), opts, m)
	if _, err := first.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	calls := m.Calls
	issues := len(m.Issues)

	second := newEngine(t, config.Example("acme"), opts, m)
	res, err := second.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if m.Calls.CreateBatch != calls.CreateBatch || len(m.Issues) != issues {
		t.Fatalf("resume created records: batches %d -> %d, issues %d -> %d",
			calls.CreateBatch, m.Calls.CreateBatch, issues, len(m.Issues))
	}
	if m.Calls.Links != calls.Links {
		t.Fatalf("resume re-created links: %d -> %d", calls.Links, m.Calls.Links)
	}
	if res.Created != 0 || res.Skipped != res.Synthesized {
		t.Fatalf("resume result = %+v", res)
	}
	if !bytes.Equal(encode(t, first.Manifest), encode(t, second.Manifest)) {
		t.Fatalf("resumed run changed the manifest")
	}
}

func TestVolumeFloor(t *testing.T) {
	story := singleProjectStory()
	arc := story.Arcs[0]
	arc.MonthlyVolumeMean = -50
	arc.MonthlyVolumeStd = 1
	e := newEngine(t, story, Options{}, tracker.NewMemory())
	for i := 0; i < 20; i++ {
		if v := e.Volume(arc); v != 1 {
			t.Fatalf("volume = %d, want floor of 1", v)
		}
	}
	zero := 0
	e = newEngine(t, story, Options{MonthlyVolume: &zero}, tracker.NewMemory())
	if v := e.Volume(arc); v != 1 {
		t.Fatalf("override volume = %d, want 1", v)
	}
}

func TestFollowupsOnlyForHighSeverity(t *testing.T) {
	m := tracker.NewMemory()
	e := newEngine(t, config.Example("acme"), Options{Incidents: true}, m)
	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	exts := map[string]bool{}
	for _, is := range m.Issues {
		exts[extOf(is)] = true
	}
	high := 0
	for _, is := range m.Issues {
		if is.Issue.IssueType != "Incident" {
			continue
		}
		ext := extOf(is)
		n := 0
		for idx := 0; idx < 10; idx++ {
			if exts[identity.ExternalID("followup", ext, strconv.Itoa(idx))] {
				n++
			}
		}
		sev1 := containsLabel(is.Issue.Labels, "severity:"+domain.Sev1)
		sev2 := containsLabel(is.Issue.Labels, "severity:"+domain.Sev2)
		if sev1 || sev2 {
			high++
			if n < 3 || n > 8 {
				t.Fatalf("incident %s has %d follow-ups", is.Key, n)
			}
		} else if n != 0 {
			t.Fatalf("low-severity incident %s has %d follow-ups", is.Key, n)
		}
	}
	if high == 0 {
		t.Fatalf("expected at least one high-severity incident")
	}
	if len(e.Followups()) != high {
		t.Fatalf("queued %d follow-up specs for %d high-severity incidents", len(e.Followups()), high)
	}
	relates := 0
	for _, l := range m.Links {
		if l.Kind == domain.LinkRelates {
			relates++
		}
	}
	if relates != res.Followups {
		t.Fatalf("relates links = %d, follow-ups = %d", relates, res.Followups)
	}
}

func TestFollowupsSkippedWhenIncidentsDisabled(t *testing.T) {
	e := newEngine(t, config.Example("acme"), Options{}, tracker.NewMemory())
	e.followups = []domain.FollowupSpec{{IncidentExternalID: "abc", TeamID: "web", Service: "auth"}}
	e.Manifest = manifest.New(manifest.Meta{})
	e.synthesizeFollowups()
	if len(e.pending) != 0 || e.result.Followups != 0 {
		t.Fatalf("follow-ups generated with incidents disabled")
	}
}

func TestCrossProjectPairs(t *testing.T) {
	var epics []EpicRef
	for i := 0; i < 24; i++ {
		epics = append(epics, EpicRef{Project: "APP", ExternalID: "a" + strconv.Itoa(i)})
		epics = append(epics, EpicRef{Project: "PLAT", ExternalID: "p" + strconv.Itoa(i)})
	}
	pairs := CrossProjectPairs(identity.NewStream("acme", "links"), epics)
	if len(pairs) != 7 {
		t.Fatalf("pairs = %d, want floor(48*0.15) = 7", len(pairs))
	}
	for _, p := range pairs {
		if p[0].Project == p[1].Project {
			t.Fatalf("same-project pair %v", p)
		}
	}
	if got := CrossProjectPairs(identity.NewStream("acme", "links"), epics[:1]); got != nil {
		t.Fatalf("single project should produce no pairs, got %v", got)
	}
}

func TestRunLinksEpicsAcrossProjects(t *testing.T) {
	m := tracker.NewMemory()
	e := newEngine(t, config.Example("acme"), Options{}, m)
	if _, err := e.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if e.Manifest.CrossProjectLinks() != 7 {
		t.Fatalf("manifest links = %d", e.Manifest.CrossProjectLinks())
	}
	blocks := 0
	for _, l := range m.Links {
		if l.Kind != domain.LinkBlocks {
			continue
		}
		blocks++
		from, _ := m.Issue(l.FromKey)
		to, _ := m.Issue(l.ToKey)
		if from.Issue.ProjectKey == to.Issue.ProjectKey {
			t.Fatalf("link within one project: %+v", l)
		}
	}
	if blocks != 7 {
		t.Fatalf("blocks links = %d", blocks)
	}
}

func TestSplitSprint(t *testing.T) {
	keys := []string{"K-1", "K-2", "K-3", "K-4", "K-5", "K-6", "K-7", "K-8", "K-9", "K-10"}
	primary, spill := SplitSprint(identity.NewStream("acme", "sprint"), keys)
	if len(primary) != 8 || len(spill) != 2 {
		t.Fatalf("split = %d/%d, want 8/2", len(primary), len(spill))
	}
	seen := map[string]bool{}
	for _, k := range append(primary, spill...) {
		seen[k] = true
	}
	if len(seen) != 10 {
		t.Fatalf("split lost keys: %v", seen)
	}
	one, rest := SplitSprint(identity.NewStream("acme", "sprint"), []string{"K-1"})
	if len(one) != 1 || len(rest) != 0 {
		t.Fatalf("single key split = %d/%d", len(one), len(rest))
	}
}

func TestSprintAssignment(t *testing.T) {
	m := tracker.NewMemory()
	e := newEngine(t, config.Example("acme"), Options{Sprints: true, Incidents: true}, m)
	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Boards) != 2 || len(m.Sprints) != 2*48 {
		t.Fatalf("boards=%d sprints=%d", len(m.Boards), len(m.Sprints))
	}
	if m.Sprints[0].Name != "Sprint 1" || m.Sprints[47].Name != "Sprint 48" {
		t.Fatalf("sprint names = %s .. %s", m.Sprints[0].Name, m.Sprints[47].Name)
	}
	assigned := map[string]int{}
	for _, sp := range m.Sprints {
		for _, k := range sp.Issues {
			assigned[k]++
		}
	}
	sprintable := 0
	for _, is := range m.Issues {
		switch is.Issue.IssueType {
		case "Story", "Task", "Bug":
			sprintable++
			if assigned[is.Key] != 1 {
				t.Fatalf("%s assigned %d times", is.Key, assigned[is.Key])
			}
		default:
			if assigned[is.Key] != 0 {
				t.Fatalf("%s (%s) should not be in a sprint", is.Key, is.Issue.IssueType)
			}
		}
	}
	if res.SprintAssignments != sprintable {
		t.Fatalf("assignments = %d, sprintable = %d", res.SprintAssignments, sprintable)
	}

	boards := m.Calls.Boards
	sprints := m.Calls.Sprints
	e.ensureSprints(context.Background(), "APP")
	if m.Calls.Boards != boards || m.Calls.Sprints != sprints {
		t.Fatalf("sprint creation not memoized")
	}
}

func TestFailedBatchesStayPending(t *testing.T) {
	volume := 5
	m := tracker.NewMemory()
	m.FailCreate = 3
	e := newEngine(t, singleProjectStory(), Options{MonthlyVolume: &volume}, m)
	_, err := e.Run(context.Background())
	if !errors.Is(err, ErrIncomplete) {
		t.Fatalf("expected ErrIncomplete, got %v", err)
	}
	if got := e.Result().Pending; got != 100 {
		t.Fatalf("pending = %d, want 100", got)
	}
	if err := e.Flush(context.Background()); err != nil {
		t.Fatalf("retry flush: %v", err)
	}
	if len(e.Pending()) != 0 || len(m.Issues) != 148 {
		t.Fatalf("pending=%d issues=%d", len(e.Pending()), len(m.Issues))
	}
	seen := map[string]bool{}
	for _, is := range m.Issues {
		ext := extOf(is)
		if seen[ext] {
			t.Fatalf("duplicate record %s", ext)
		}
		seen[ext] = true
	}
}

// failIncidentBatchOnce rejects the first batch that carries an incident.
type failIncidentBatchOnce struct {
	*tracker.Memory
	failed bool
}

func (f *failIncidentBatchOnce) CreateBatch(ctx context.Context, issues []tracker.Issue) ([]tracker.Created, error) {
	if !f.failed {
		for _, is := range issues {
			if is.IssueType == "Incident" {
				f.failed = true
				return nil, errors.New("incident batch rejected")
			}
		}
	}
	return f.Memory.CreateBatch(ctx, issues)
}

func TestRetriedFlushLinksFollowupsToLateIncidents(t *testing.T) {
	client := &failIncidentBatchOnce{Memory: tracker.NewMemory()}
	e := newEngine(t, singleProjectStory(), Options{Incidents: true}, client)
	_, err := e.Run(context.Background())
	if !errors.Is(err, ErrIncomplete) {
		t.Fatalf("expected ErrIncomplete, got %v", err)
	}
	if err := e.Flush(context.Background()); err != nil {
		t.Fatalf("retry flush: %v", err)
	}
	res := e.Result()
	if res.Followups == 0 {
		t.Fatalf("expected follow-ups")
	}
	relates := 0
	for _, l := range client.Links {
		if l.Kind == domain.LinkRelates {
			relates++
		}
	}
	if relates != res.Followups {
		t.Fatalf("relates links = %d, follow-ups = %d", relates, res.Followups)
	}
	if len(e.deferred) != 0 {
		t.Fatalf("%d links still deferred", len(e.deferred))
	}
}

func TestIncidentProjectKeepsSourceProjectsApart(t *testing.T) {
	story := singleProjectStory()
	story.Projects = append(story.Projects, config.Project{Key: "WEB", TeamID: "web"})
	story.IncidentProjectKey = "OPS"
	volume := 5
	m := tracker.NewMemory()
	e := newEngine(t, story, Options{Incidents: true, MonthlyVolume: &volume}, m)
	if _, err := e.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	counted := e.Manifest.ProjectCounts("OPS")[domain.KindIncident]
	if counted == 0 {
		t.Fatalf("expected incidents in OPS")
	}
	created := 0
	for _, is := range m.Issues {
		if is.Issue.ProjectKey == "OPS" && is.Issue.IssueType == "Incident" {
			created++
		}
	}
	if created != counted {
		t.Fatalf("incidents created = %d, counted = %d", created, counted)
	}
}

func TestRecordDwellBlockedThreshold(t *testing.T) {
	blocked := func(days float64) int {
		m := manifest.New(manifest.Meta{})
		RecordDwell(m, Dwell{InProgress: 2, InReview: 1, Blocked: days})
		n := 0
		for _, b := range manifest.Buckets {
			n += m.Dwell(manifest.StateBlocked, b)
		}
		if m.Dwell(manifest.StateInProgress, manifest.Bucket1To3) != 1 || m.Dwell(manifest.StateInReview, manifest.Bucket0To1) != 1 {
			t.Fatalf("progress/review not recorded")
		}
		return n
	}
	if n := blocked(0.6); n != 0 {
		t.Fatalf("blocked 0.6 recorded %d times", n)
	}
	if n := blocked(0.61); n != 1 {
		t.Fatalf("blocked 0.61 recorded %d times", n)
	}
}

func TestSimulateDwellFloors(t *testing.T) {
	e := newEngine(t, singleProjectStory(), Options{}, tracker.NewMemory())
	e.Manifest = manifest.New(manifest.Meta{})
	profile := config.DwellProfile{ReviewDaysMean: -20, BlockedDaysMean: -20}
	for i := 0; i < 50; i++ {
		d := e.simulateDwell(profile)
		if d.InReview != 0.5 || d.Blocked != 0.2 {
			t.Fatalf("floors not applied: %+v", d)
		}
		if d.InProgress < 0.5 {
			t.Fatalf("in progress below floor: %+v", d)
		}
	}
	if n := e.Manifest.Dwell(manifest.StateInReview, manifest.Bucket0To1); n != 50 {
		t.Fatalf("review histogram = %d", n)
	}
	for _, b := range manifest.Buckets {
		if n := e.Manifest.Dwell(manifest.StateBlocked, b); n != 0 {
			t.Fatalf("floored blocked time recorded in %s", b)
		}
	}
}

func TestIssueTypeFallback(t *testing.T) {
	m := tracker.NewMemory()
	m.Types = []string{"Story", "Task", "Bug"}
	e := newEngine(t, singleProjectStory(), Options{}, m)
	if err := e.loadIssueTypes(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := e.issueType("Incident"); got != "Task" {
		t.Fatalf("fallback = %s, want Task", got)
	}
	m.Types = []string{"Story"}
	_ = e.loadIssueTypes(context.Background())
	if got := e.issueType("Epic"); got != "Story" {
		t.Fatalf("fallback = %s, want Story", got)
	}
	if got := e.issueType("Story"); got != "Story" {
		t.Fatalf("known type rewritten to %s", got)
	}
}

func TestSideEffects(t *testing.T) {
	m := tracker.NewMemory()
	m.Users["dev@example.com"] = "acc-1"
	opts := Options{Transitions: true, Comments: true, Incidents: true, Assignees: []string{"dev@example.com", "ghost@example.com"}}
	e := newEngine(t, config.Example("acme"), opts, m)
	if _, err := e.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	assigned := 0
	for _, is := range m.Issues {
		if is.Meta["external_id"] != extOf(is) {
			t.Fatalf("%s metadata = %v", is.Key, is.Meta)
		}
		switch is.Issue.IssueType {
		case "Incident":
			if is.Status != "Resolved" {
				t.Fatalf("incident %s status %s", is.Key, is.Status)
			}
		case "Epic", "Initiative":
			if is.Status != "To Do" {
				t.Fatalf("portfolio item %s transitioned to %s", is.Key, is.Status)
			}
		default:
			if is.Status != "Done" {
				t.Fatalf("%s status %s", is.Key, is.Status)
			}
		}
		if is.Issue.Assignee != "" {
			if is.Issue.Assignee != "acc-1" {
				t.Fatalf("unexpected assignee %s", is.Issue.Assignee)
			}
			assigned++
		}
	}
	if assigned == 0 || m.Calls.Comments == 0 {
		t.Fatalf("assigned=%d comments=%d", assigned, m.Calls.Comments)
	}
}

func containsLabel(labels []string, want string) bool {
	for _, l := range labels {
		if l == want {
			return true
		}
	}
	return false
}
