package positioning

// Estimator converts a snapshot into ranges with Model and solves them.
type Estimator struct {
	Model  DistanceModel
	Solver Solver
}

// NewEstimator returns an estimator; a nil solver means Exact.
func NewEstimator(model DistanceModel, solver Solver) *Estimator {
	if solver == nil {
		solver = Exact{}
	}
	return &Estimator{Model: model, Solver: solver}
}

// Ranges pairs every registered anchor that has a reading with its modeled
// distance, ordered by anchor id. Readings from unknown beacons are ignored.
func (e *Estimator) Ranges(reg *Registry, snap *Snapshot) []Range {
	anchors := reg.All()
	out := make([]Range, 0, len(anchors))
	for _, a := range anchors {
		rssi, ok := snap.Get(a.ID)
		if !ok {
			continue
		}
		out = append(out, Range{Anchor: a, Distance: e.Model.DistanceFromRSSI(rssi), RSSI: rssi})
	}
	return out
}

func (e *Estimator) Estimate(reg *Registry, snap *Snapshot) (LocationResult, error) {
	return e.solver().Solve(e.Ranges(reg, snap), e.Model.Unit)
}

func (e *Estimator) solver() Solver {
	if e.Solver == nil {
		return Exact{}
	}
	return e.Solver
}

// FusionMember is a solver taking part in EstimateFused.
type FusionMember struct {
	Solver Solver
	Weight float64
}

// EstimateFused runs every member on the same ranges and fuses the ones that
// succeed. If none succeed the first member's error is returned.
func (e *Estimator) EstimateFused(reg *Registry, snap *Snapshot, members []FusionMember) (LocationResult, error) {
	if len(members) == 0 {
		return LocationResult{}, ErrNoResults
	}
	ranges := e.Ranges(reg, snap)
	var (
		ok       []WeightedResult
		firstErr error
	)
	for _, m := range members {
		r, err := m.Solver.Solve(ranges, e.Model.Unit)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		ok = append(ok, WeightedResult{Result: r, Weight: m.Weight})
	}
	if len(ok) == 0 {
		return LocationResult{}, firstErr
	}
	return Fuse(ok)
}
