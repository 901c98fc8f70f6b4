package engine

import (
	"fmt"
	"sort"

	"talkmix/internal/core/domain"
)

type OpKind int

const (
	OpRemoveSource OpKind = iota
	OpAddSource
	OpUpdateSource
	OpUnplace
	OpPlace
	OpCanvas
	OpOverlay
)

func (k OpKind) String() string {
	switch k {
	case OpRemoveSource:
		return "remove_source"
	case OpAddSource:
		return "add_source"
	case OpUpdateSource:
		return "update_source"
	case OpUnplace:
		return "unplace"
	case OpPlace:
		return "place"
	case OpCanvas:
		return "canvas"
	case OpOverlay:
		return "overlay"
	default:
		return "unknown"
	}
}

// Op is one graph mutation produced by Diff.
type Op struct {
	Kind       OpKind
	StreamID   domain.StreamID
	Input      domain.Input
	Tile       domain.Tile
	Resolution domain.Size
	Overlay    domain.SessionOverlay
}

// Node is the arena entry for one input stream.
type Node struct {
	Input  domain.Input
	Tile   domain.Tile
	Placed bool
}

// Graph is the arena of live nodes indexed by stream id. Diff and Apply are
// split so reconciliation can be inspected without touching media state.
type Graph struct {
	nodes      map[domain.StreamID]*Node
	resolution domain.Size
	overlay    domain.SessionOverlay
}

func NewGraph() *Graph {
	return &Graph{nodes: make(map[domain.StreamID]*Node)}
}

// Diff returns the ops that turn the graph into plan. It is empty when the
// graph already matches.
func (g *Graph) Diff(plan *domain.RenderPlan) ([]Op, error) {
	inputs := make(map[domain.StreamID]domain.Input, len(plan.Inputs))
	for _, in := range plan.Inputs {
		if _, dup := inputs[in.StreamID]; dup {
			return nil, fmt.Errorf("duplicate input %s", in.StreamID)
		}
		inputs[in.StreamID] = in
	}
	tiles := make(map[domain.StreamID]domain.Tile, len(plan.Tiles))
	for _, t := range plan.Tiles {
		if _, ok := inputs[t.StreamID]; !ok {
			return nil, fmt.Errorf("tile references unknown input %s", t.StreamID)
		}
		tiles[t.StreamID] = t
	}

	var ops []Op
	for _, id := range g.sortedIDs() {
		if _, keep := inputs[id]; !keep {
			ops = append(ops, Op{Kind: OpRemoveSource, StreamID: id})
		}
	}
	for _, in := range plan.Inputs {
		node, exists := g.nodes[in.StreamID]
		switch {
		case !exists:
			ops = append(ops, Op{Kind: OpAddSource, StreamID: in.StreamID, Input: in})
		case node.Input != in:
			ops = append(ops, Op{Kind: OpUpdateSource, StreamID: in.StreamID, Input: in})
		}
	}
	for _, in := range plan.Inputs {
		node, exists := g.nodes[in.StreamID]
		tile, visible := tiles[in.StreamID]
		switch {
		case visible && (!exists || !node.Placed || node.Tile != tile):
			ops = append(ops, Op{Kind: OpPlace, StreamID: in.StreamID, Tile: tile})
		case !visible && exists && node.Placed:
			ops = append(ops, Op{Kind: OpUnplace, StreamID: in.StreamID})
		}
	}
	if g.resolution != plan.Resolution {
		ops = append(ops, Op{Kind: OpCanvas, Resolution: plan.Resolution})
	}
	if g.overlay != plan.Overlay {
		ops = append(ops, Op{Kind: OpOverlay, Overlay: plan.Overlay})
	}
	return ops, nil
}

// Apply performs ops in order.
func (g *Graph) Apply(ops []Op) {
	for _, op := range ops {
		switch op.Kind {
		case OpRemoveSource:
			delete(g.nodes, op.StreamID)
		case OpAddSource:
			g.nodes[op.StreamID] = &Node{Input: op.Input}
		case OpUpdateSource:
			if node, ok := g.nodes[op.StreamID]; ok {
				node.Input = op.Input
			}
		case OpPlace:
			if node, ok := g.nodes[op.StreamID]; ok {
				node.Tile = op.Tile
				node.Placed = true
			}
		case OpUnplace:
			if node, ok := g.nodes[op.StreamID]; ok {
				node.Tile = domain.Tile{}
				node.Placed = false
			}
		case OpCanvas:
			g.resolution = op.Resolution
		case OpOverlay:
			g.overlay = op.Overlay
		}
	}
}

func (g *Graph) Node(id domain.StreamID) (Node, bool) {
	node, ok := g.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *node, true
}

func (g *Graph) Len() int {
	return len(g.nodes)
}

// Placed returns the placed nodes ordered by slot.
func (g *Graph) Placed() []Node {
	out := make([]Node, 0, len(g.nodes))
	for _, node := range g.nodes {
		if node.Placed {
			out = append(out, *node)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tile.Slot < out[j].Tile.Slot })
	return out
}

func (g *Graph) Overlay() domain.SessionOverlay {
	return g.overlay
}

func (g *Graph) Resolution() domain.Size {
	return g.resolution
}

func (g *Graph) sortedIDs() []domain.StreamID {
	ids := make([]domain.StreamID, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
