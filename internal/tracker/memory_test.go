package tracker

import (
	"context"
	"testing"
)

func TestMemoryFindExistingOnlySeeded(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	_, err := m.CreateBatch(ctx, []Issue{
		{ProjectKey: "APP", IssueType: "Story", Labels: []string{"seeded", "extid-aaa"}},
		{ProjectKey: "APP", IssueType: "Story", Labels: []string{"extid-bbb"}},
		{ProjectKey: "OPS", IssueType: "Story", Labels: []string{"seeded", "extid-ccc"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	found, _ := m.FindExisting(ctx, "APP")
	if len(found) != 1 || found["aaa"] != "APP-1" {
		t.Fatalf("found = %v", found)
	}
}

func TestMemoryPartialAndFailingBatches(t *testing.T) {
	m := NewMemory()
	m.FailCreate = 1
	ctx := context.Background()
	batch := []Issue{{ProjectKey: "APP", Labels: []string{"extid-a"}}, {ProjectKey: "APP", Labels: []string{"extid-b"}}}
	if _, err := m.CreateBatch(ctx, batch); err == nil {
		t.Fatalf("expected simulated failure")
	}
	m.MaxPerBatch = 1
	created, err := m.CreateBatch(ctx, batch)
	if err != nil {
		t.Fatal(err)
	}
	if len(created) != 1 || created[0].ExternalID != "a" {
		t.Fatalf("created = %+v", created)
	}
}
