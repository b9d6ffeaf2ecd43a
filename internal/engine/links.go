package engine

import (
	"context"

	"storyseed/internal/domain"
	"storyseed/internal/identity"
)

// LinkFraction of all epics gets a cross-project dependency.
const LinkFraction = 0.15

// CrossProjectPairs samples floor(len(epics)*LinkFraction) source/destination
// pairs with replacement, discarding draws inside one project. It returns nil
// when fewer than two projects have epics.
func CrossProjectPairs(s *identity.Stream, epics []EpicRef) [][2]EpicRef {
	projects := map[string]bool{}
	for _, ep := range epics {
		projects[ep.Project] = true
	}
	if len(projects) < 2 {
		return nil
	}
	target := int(float64(len(epics)) * LinkFraction)
	pairs := make([][2]EpicRef, 0, target)
	for len(pairs) < target {
		src := epics[s.Pick(len(epics))]
		dst := epics[s.Pick(len(epics))]
		if src.Project == dst.Project {
			continue
		}
		pairs = append(pairs, [2]EpicRef{src, dst})
	}
	return pairs
}

// linkEpics records every sampled dependency and creates the Blocks link when
// both keys are known and the link is not already from a previous run.
func (e *Engine) linkEpics(ctx context.Context) {
	for _, pair := range CrossProjectPairs(e.stream, e.epics) {
		e.Manifest.RecordCrossProjectLink()
		src, okSrc := e.keyByExt[pair[0].ExternalID]
		dst, okDst := e.keyByExt[pair[1].ExternalID]
		if !okSrc || !okDst {
			continue
		}
		if !e.newInRun[pair[0].ExternalID] && !e.newInRun[pair[1].ExternalID] {
			continue
		}
		if err := e.Client.CreateLink(ctx, domain.LinkBlocks, src, dst); err != nil {
			e.logger().Warn("create link failed", "kind", domain.LinkBlocks, "from", src, "to", dst, "err", err)
			continue
		}
		e.result.Links++
	}
}
