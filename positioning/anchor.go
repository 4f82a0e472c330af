package positioning

import (
	"math"
	"sort"
)

// Anchor is a fixed beacon at a known position, in the deployment's unit.
type Anchor struct {
	ID   string  `json:"id" yaml:"id" mapstructure:"id"`
	Name string  `json:"name" yaml:"name" mapstructure:"name"`
	X    float64 `json:"x" yaml:"x" mapstructure:"x"`
	Y    float64 `json:"y" yaml:"y" mapstructure:"y"`
	Z    float64 `json:"z" yaml:"z" mapstructure:"z"`
}

func (a Anchor) Coordinates() (x, y, z float64) { return a.X, a.Y, a.Z }

// DistanceTo is the euclidean distance between two anchors.
func (a Anchor) DistanceTo(o Anchor) float64 {
	return math.Sqrt(pow2(a.X-o.X) + pow2(a.Y-o.Y) + pow2(a.Z-o.Z))
}

// Registry maps anchor id to anchor. It is not safe for concurrent mutation;
// configure it before the run and only read it afterwards.
type Registry struct {
	anchors map[string]Anchor
}

func NewRegistry(anchors ...Anchor) *Registry {
	r := &Registry{anchors: make(map[string]Anchor, len(anchors))}
	for _, a := range anchors {
		r.Add(a)
	}
	return r
}

// Add places a; an existing anchor with the same id is replaced.
func (r *Registry) Add(a Anchor) {
	if r.anchors == nil {
		r.anchors = make(map[string]Anchor)
	}
	r.anchors[a.ID] = a
}

func (r *Registry) Get(id string) (Anchor, bool) {
	a, ok := r.anchors[id]
	return a, ok
}

func (r *Registry) Remove(id string) bool {
	_, ok := r.anchors[id]
	delete(r.anchors, id)
	return ok
}

func (r *Registry) Clear() { r.anchors = make(map[string]Anchor) }

func (r *Registry) Len() int { return len(r.anchors) }

// All returns the anchors sorted by id.
func (r *Registry) All() []Anchor {
	out := make([]Anchor, 0, len(r.anchors))
	for _, a := range r.anchors {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
