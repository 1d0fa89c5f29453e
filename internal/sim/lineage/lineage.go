// Package lineage models the remix forge social graph: contributor nodes,
// remix ancestry edges, and echo ripples triggered by remix or governance
// events. It produces presentation parameters only; the host's effects
// system decides how to draw them.
package lineage

import (
	"fmt"
	"sort"
)

type Node struct {
	ID            string   `json:"id"`
	ContributorID string   `json:"contributor_id"`
	ParentIDs     []string `json:"parent_ids,omitempty"`
}

// Intensity tiers of an echo ripple.
type Tier string

const (
	TierLow    Tier = "LOW"
	TierMedium Tier = "MEDIUM"
	TierHigh   Tier = "HIGH"
)

// tierParams is the per-tier presentation record, one table in the same
// spirit as the motif table.
type tierParams struct {
	GlowIntensity float64
	RippleSpeed   float64 // radius units per tick
	MaxRadius     float64
}

var tierTable = map[Tier]tierParams{
	TierLow:    {GlowIntensity: 0.8, RippleSpeed: 1.0, MaxRadius: 40},
	TierMedium: {GlowIntensity: 2.0, RippleSpeed: 2.0, MaxRadius: 100},
	TierHigh:   {GlowIntensity: 4.5, RippleSpeed: 3.5, MaxRadius: 180},
}

// Graph is the remix ancestry DAG. Session goroutine only.
type Graph struct {
	nodes map[string]*Node

	ripples []*Ripple
}

type Ripple struct {
	SourceID string  `json:"source_id"`
	Tier     Tier    `json:"tier"`
	Radius   float64 `json:"radius"`
	Done     bool    `json:"done"`
}

// RippleFrame is one tick of ripple output for the presentation collaborator.
type RippleFrame struct {
	SourceID      string   `json:"source_id"`
	Tier          Tier     `json:"tier"`
	Radius        float64  `json:"radius"`
	GlowIntensity float64  `json:"glow_intensity"`
	AffectedIDs   []string `json:"affected_ids"`
}

func NewGraph() *Graph {
	return &Graph{nodes: map[string]*Node{}}
}

// AddRemix records a remix node. Parents must already exist; a remix with
// no parents is a root work.
func (g *Graph) AddRemix(id, contributorID string, parentIDs ...string) error {
	if id == "" {
		return fmt.Errorf("empty node id")
	}
	if _, ok := g.nodes[id]; ok {
		return fmt.Errorf("node %s already exists", id)
	}
	for _, p := range parentIDs {
		if _, ok := g.nodes[p]; !ok {
			return fmt.Errorf("unknown parent %s", p)
		}
	}
	g.nodes[id] = &Node{ID: id, ContributorID: contributorID, ParentIDs: append([]string(nil), parentIDs...)}
	return nil
}

func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

func (g *Graph) Len() int { return len(g.nodes) }

// AncestorPath returns every ancestor of id in breadth-first order,
// nearest generation first, each ancestor once. The node itself is not
// included.
func (g *Graph) AncestorPath(id string) ([]string, error) {
	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("unknown node %s", id)
	}
	var out []string
	seen := map[string]bool{n.ID: true}
	frontier := append([]string(nil), n.ParentIDs...)
	for len(frontier) > 0 {
		sort.Strings(frontier)
		var next []string
		for _, pid := range frontier {
			if seen[pid] {
				continue
			}
			seen[pid] = true
			out = append(out, pid)
			if p, ok := g.nodes[pid]; ok {
				next = append(next, p.ParentIDs...)
			}
		}
		frontier = next
	}
	return out, nil
}

// depth returns the hop distance from src to every reachable node,
// following edges in both directions (ancestry and descendants both feel
// the echo).
func (g *Graph) depth(src string) map[string]int {
	adj := map[string][]string{}
	for _, n := range g.nodes {
		for _, p := range n.ParentIDs {
			adj[n.ID] = append(adj[n.ID], p)
			adj[p] = append(adj[p], n.ID)
		}
	}
	dist := map[string]int{src: 0}
	frontier := []string{src}
	for len(frontier) > 0 {
		var next []string
		for _, id := range frontier {
			nbrs := append([]string(nil), adj[id]...)
			sort.Strings(nbrs)
			for _, nb := range nbrs {
				if _, ok := dist[nb]; ok {
					continue
				}
				dist[nb] = dist[id] + 1
				next = append(next, nb)
			}
		}
		frontier = next
	}
	return dist
}

// TriggerEcho starts a ripple from a source node.
func (g *Graph) TriggerEcho(sourceID string, tier Tier) error {
	if _, ok := g.nodes[sourceID]; !ok {
		return fmt.Errorf("unknown node %s", sourceID)
	}
	if _, ok := tierTable[tier]; !ok {
		return fmt.Errorf("tier %q not in tier table", tier)
	}
	g.ripples = append(g.ripples, &Ripple{SourceID: sourceID, Tier: tier})
	return nil
}

// hopRadius is how much ripple radius one graph hop represents.
const hopRadius = 25.0

// Step advances all active ripples by one tick and returns the frames for
// ripples still alive this tick. A ripple affects every node whose hop
// distance, scaled to radius units, the wavefront has reached. Finished
// ripples are dropped.
func (g *Graph) Step() []RippleFrame {
	var frames []RippleFrame
	alive := g.ripples[:0]
	for _, r := range g.ripples {
		p := tierTable[r.Tier]
		r.Radius += p.RippleSpeed
		if r.Radius >= p.MaxRadius {
			r.Radius = p.MaxRadius
			r.Done = true
		}

		dist := g.depth(r.SourceID)
		var affected []string
		for id, d := range dist {
			if id == r.SourceID {
				continue
			}
			if float64(d)*hopRadius <= r.Radius {
				affected = append(affected, id)
			}
		}
		sort.Strings(affected)

		frames = append(frames, RippleFrame{
			SourceID:      r.SourceID,
			Tier:          r.Tier,
			Radius:        r.Radius,
			GlowIntensity: p.GlowIntensity,
			AffectedIDs:   affected,
		})
		if !r.Done {
			alive = append(alive, r)
		}
	}
	g.ripples = alive
	return frames
}

// ActiveRipples reports ripples still in flight (for snapshots).
func (g *Graph) ActiveRipples() []Ripple {
	out := make([]Ripple, 0, len(g.ripples))
	for _, r := range g.ripples {
		out = append(out, *r)
	}
	return out
}

// Nodes returns all nodes sorted by id (for snapshots and digests).
func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Restore rebuilds the graph from snapshot data.
func (g *Graph) Restore(nodes []Node, ripples []Ripple) {
	g.nodes = make(map[string]*Node, len(nodes))
	for i := range nodes {
		n := nodes[i]
		g.nodes[n.ID] = &n
	}
	g.ripples = nil
	for i := range ripples {
		r := ripples[i]
		g.ripples = append(g.ripples, &r)
	}
}
