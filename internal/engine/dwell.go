package engine

import (
	"storyseed/internal/config"
	"storyseed/internal/manifest"
)

const (
	progressMean  = 2.0
	progressStd   = 1.0
	progressFloor = 0.5
	reviewFloor   = 0.5
	blockedFloor  = 0.2
	// blockedVisible is the shortest block worth reporting.
	blockedVisible = 0.6
)

// Dwell holds the simulated state residency of one record, in days.
type Dwell struct {
	InProgress float64
	InReview   float64
	Blocked    float64
}

// simulateDwell draws review, blocked, then in-progress durations and
// records them. It runs for every synthesized record, existing or not.
func (e *Engine) simulateDwell(profile config.DwellProfile) Dwell {
	d := Dwell{
		InReview:   max(reviewFloor, e.stream.Gauss(profile.ReviewDaysMean, profile.ReviewStd())),
		Blocked:    max(blockedFloor, e.stream.Gauss(profile.BlockedDaysMean, profile.BlockedStd())),
		InProgress: max(progressFloor, e.stream.Gauss(progressMean, progressStd)),
	}
	RecordDwell(e.Manifest, d)
	return d
}

// RecordDwell adds a record's durations to the histogram. Blocked time only
// counts above the visibility threshold.
func RecordDwell(m *manifest.Manifest, d Dwell) {
	m.RecordDwell(manifest.StateInProgress, d.InProgress)
	m.RecordDwell(manifest.StateInReview, d.InReview)
	if d.Blocked > blockedVisible {
		m.RecordDwell(manifest.StateBlocked, d.Blocked)
	}
}
