package main

import (
	"testing"
	"time"

	"storyseed/internal/config"
	"storyseed/internal/timeline"
)

func TestPlanRowsFollowArcs(t *testing.T) {
	story := config.Example("acme")
	rng, err := timeline.Resolve("2022-01-01", "2024-01-01", time.Now())
	if err != nil {
		t.Fatal(err)
	}
	rows := planRows(story, rng)
	if len(rows) != rng.Months {
		t.Fatalf("rows = %d, months = %d", len(rows), rng.Months)
	}
	if rows[0].Arc != "Launch" || rows[8].Arc != "Scale Pain" || rows[16].Arc != "Recovery" {
		t.Fatalf("arcs = %s, %s, %s", rows[0].Arc, rows[8].Arc, rows[16].Arc)
	}
	if rows[0].Starts != "2022-01-01" || rows[1].Starts != "2022-01-31" {
		t.Fatalf("month starts = %s, %s", rows[0].Starts, rows[1].Starts)
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" a@x.io, ,b@x.io,")
	if len(got) != 2 || got[0] != "a@x.io" || got[1] != "b@x.io" {
		t.Fatalf("got %q", got)
	}
	if splitList("") != nil {
		t.Fatalf("empty input should yield nil")
	}
}
