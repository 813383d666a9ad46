package kms

import (
	"fmt"
	"strings"

	"github.com/bnema/scanout/internal/logger"
)

// ShufflePolicy decides when a rebinding of existing outputs is accepted.
type ShufflePolicy int

const (
	// ShuffleStrict keeps a new binding only if every connector is driven.
	ShuffleStrict ShufflePolicy = iota
	// ShuffleRelaxed keeps it once at least one new connector lights up.
	ShuffleRelaxed
)

func (p ShufflePolicy) String() string {
	if p == ShuffleRelaxed {
		return "relaxed"
	}
	return "strict"
}

// ParseShufflePolicy accepts "strict" and "relaxed".
func ParseShufflePolicy(s string) (ShufflePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return ShuffleStrict, nil
	case "relaxed":
		return ShuffleRelaxed, nil
	}
	return ShuffleStrict, fmt.Errorf("unknown shuffle policy %q", s)
}

type pairKey struct {
	connector, crtc uint32
}

func (g *GPU) isRejected(conn *Connector, crtc *Crtc) bool {
	_, ok := g.rejected[pairKey{conn.id, crtc.id}]
	return ok
}

// findWorkingCombination searches for the largest set of pipelines driving
// the given connectors, with no CRTC or plane used twice. The input slices
// are never modified; each recursion level works on its own copies.
func (g *GPU) findWorkingCombination(connectors []*Connector, crtcs []*Crtc, planes []*Plane) []*Pipeline {
	if len(connectors) == 0 || len(crtcs) == 0 {
		return nil
	}
	conn, rest := connectors[0], connectors[1:]

	var best []*Pipeline
	for _, encID := range conn.Encoders() {
		enc, err := g.dev.Encoder(encID)
		if err != nil {
			logger.Debug("skipping encoder", "connector", conn.Name(), "encoder", encID, "err", err)
			continue
		}
		for _, crtc := range crtcs {
			if enc.PossibleCrtcs&(1<<uint(crtc.pipe)) == 0 || g.isRejected(conn, crtc) {
				continue
			}
			otherCrtcs := without(crtcs, crtc)

			if !g.atomic {
				p, err := newPipeline(g, conn, crtc, nil)
				if err != nil {
					continue
				}
				result := append([]*Pipeline{p}, g.findWorkingCombination(rest, otherCrtcs, planes)...)
				if keepBest(&best, result, len(rest)) {
					return best
				}
				continue
			}

			for _, plane := range planes {
				if plane.typ != PlanePrimary || !plane.IsCrtcSupported(crtc.pipe) {
					continue
				}
				p, err := newPipeline(g, conn, crtc, plane)
				if err != nil {
					continue
				}
				if err := p.Test(); err != nil {
					logger.Debug("pipeline rejected by test commit", "pipeline", p, "err", err)
					p.destroy()
					continue
				}
				result := append([]*Pipeline{p}, g.findWorkingCombination(rest, otherCrtcs, without(planes, plane))...)
				if keepBest(&best, result, len(rest)) {
					return best
				}
			}
		}
	}

	// Leaving this connector unassigned may let more of the others light up.
	if len(best) < len(rest) {
		skipped := g.findWorkingCombination(rest, crtcs, planes)
		if len(skipped) > len(best) {
			destroyAll(best)
			best = skipped
		} else {
			destroyAll(skipped)
		}
	}
	return best
}

// keepBest stores result in best when it is larger and reports whether the
// search is complete, i.e. every remaining connector was matched too.
func keepBest(best *[]*Pipeline, result []*Pipeline, remaining int) bool {
	if len(result) > remaining {
		destroyAll(*best)
		*best = result
		return true
	}
	if len(result) > len(*best) {
		destroyAll(*best)
		*best = result
	} else {
		destroyAll(result)
	}
	return false
}

// shufflePipelines turns every output off and searches the combined pools
// again. On success existing outputs are rebound and the pipelines for new
// connectors are returned; freeConns and freeCrtcs are updated to the new
// free pools. Otherwise the old bindings are re-enabled untouched and only
// the free pool is matched.
func (g *GPU) shufflePipelines(freeConns []*Connector, freeCrtcs *[]*Crtc) []*Pipeline {
	logger.Warn("not all connectors can be driven, reshuffling outputs", "free_connectors", len(freeConns), "outputs", len(g.outputs))

	conns := append([]*Connector(nil), freeConns...)
	crtcs := append([]*Crtc(nil), (*freeCrtcs)...)
	planes := append([]*Plane(nil), g.unusedPlanes...)

	var disabled []*Output
	for _, o := range g.outputs {
		if err := o.pipeline.SetEnablement(false); err != nil {
			logger.Warn("could not disable output for reshuffle", "output", o.Name(), "err", err)
			continue
		}
		disabled = append(disabled, o)
		conns = append(conns, o.pipeline.connector)
		crtcs = append(crtcs, o.pipeline.crtc)
		if o.pipeline.primary != nil {
			planes = append(planes, o.pipeline.primary)
		}
	}

	working := g.findWorkingCombination(conns, crtcs, planes)
	if g.shuffleAccepted(working, disabled, freeConns) {
		for _, o := range disabled {
			p := pipelineFor(working, o.pipeline.connector)
			old := o.pipeline
			if !g.atomic && old.crtc != p.crtc {
				if err := old.disableLegacy(); err != nil {
					logger.Warn("could not release old CRTC", "output", o.Name(), "err", err)
				}
			}
			o.setPipeline(p)
			old.destroy()
			working = without(working, p)
			crtcs = without(crtcs, p.crtc)
			if p.primary != nil {
				planes = without(planes, p.primary)
			}
			logger.Info("output rebound", "output", o.Name(), "pipeline", p)
		}
		*freeCrtcs = crtcs
		g.unusedPlanes = planes
		return working
	}

	logger.Warn("reshuffle found no better configuration, restoring outputs")
	destroyAll(working)
	for _, o := range disabled {
		if err := o.pipeline.SetEnablement(o.enabled && o.dpmsPending == DPMSOn); err != nil {
			logger.Error("could not re-enable output after reshuffle", "output", o.Name(), "err", err)
		}
		o.renderLoop.ScheduleRepaint()
	}
	return g.findWorkingCombination(freeConns, *freeCrtcs, g.unusedPlanes)
}

func (g *GPU) shuffleAccepted(working []*Pipeline, disabled []*Output, freeConns []*Connector) bool {
	for _, o := range disabled {
		if pipelineFor(working, o.pipeline.connector) == nil {
			return false
		}
	}
	covered := 0
	for _, c := range freeConns {
		if pipelineFor(working, c) != nil {
			covered++
		}
	}
	if g.opts.ShufflePolicy == ShuffleRelaxed {
		return covered > 0
	}
	return covered == len(freeConns)
}

func pipelineFor(pipelines []*Pipeline, conn *Connector) *Pipeline {
	for _, p := range pipelines {
		if p.connector == conn {
			return p
		}
	}
	return nil
}

func destroyAll(pipelines []*Pipeline) {
	for _, p := range pipelines {
		p.destroy()
	}
}

func without[T comparable](list []T, item T) []T {
	out := make([]T, 0, len(list))
	for _, v := range list {
		if v != item {
			out = append(out, v)
		}
	}
	return out
}
