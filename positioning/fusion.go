package positioning

import "time"

// WeightedResult pairs an estimate with its fusion weight.
type WeightedResult struct {
	Result LocationResult
	Weight float64
}

// Fuse averages x, y, z, confidence and error by weight. The fused beacon
// count is the largest input count. Unit and timestamp come from the first
// input.
func Fuse(in []WeightedResult) (LocationResult, error) {
	if len(in) == 0 {
		return LocationResult{}, ErrNoResults
	}
	var total float64
	for _, wr := range in {
		total += wr.Weight
	}
	if total == 0 {
		return LocationResult{}, ErrZeroWeight
	}

	var out LocationResult
	for _, wr := range in {
		r, w := wr.Result, wr.Weight
		out.X += r.X * w
		out.Y += r.Y * w
		out.Z += r.Z * w
		out.Confidence += r.Confidence * w
		out.Error += r.Error * w
		if r.BeaconCount > out.BeaconCount {
			out.BeaconCount = r.BeaconCount
		}
	}
	out.X /= total
	out.Y /= total
	out.Z /= total
	out.Confidence = clamp(out.Confidence/total, 0, 1)
	out.Error /= total
	out.Method = MethodFused
	out.Unit = in[0].Result.Unit
	out.Timestamp = in[0].Result.Timestamp
	if out.Timestamp.IsZero() {
		out.Timestamp = time.Now()
	}
	return out, nil
}
