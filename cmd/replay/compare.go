package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// readXY loads x,y columns from a reference track CSV. When tag is set and
// the file has a tag column, other tags' rows are skipped.
func readXY(r io.Reader, tag string) ([][2]float64, error) {
	recs, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(recs) <= 1 {
		return nil, fmt.Errorf("no rows")
	}
	header := recs[0]
	idxX, idxY := -1, -1
	for _, p := range [][2]string{{"x", "y"}, {"x_m", "y_m"}, {"x_cm", "y_cm"}, {"fused_x_m", "fused_y_m"}} {
		ix, iy := indexOf(header, p[0]), indexOf(header, p[1])
		if ix >= 0 && iy >= 0 {
			idxX, idxY = ix, iy
			break
		}
	}
	if idxX < 0 {
		return nil, fmt.Errorf("x/y columns not found in %v", header)
	}
	idxTag := indexOf(header, "tag")

	out := make([][2]float64, 0, len(recs)-1)
	for _, row := range recs[1:] {
		if len(row) <= idxX || len(row) <= idxY {
			continue
		}
		if tag != "" && idxTag >= 0 && idxTag < len(row) && !strings.EqualFold(row[idxTag], tag) {
			continue
		}
		x, errX := strconv.ParseFloat(row[idxX], 64)
		y, errY := strconv.ParseFloat(row[idxY], 64)
		if errX != nil || errY != nil {
			continue
		}
		out = append(out, [2]float64{x, y})
	}
	return out, nil
}

func indexOf(arr []string, key string) int {
	for i, v := range arr {
		if strings.EqualFold(strings.TrimSpace(v), key) {
			return i
		}
	}
	return -1
}

// compareTracks finds the frame shift within ±maxShift that minimizes the
// RMS planar distance between pred and ref. ok is false when no shift
// overlaps.
func compareTracks(pred, ref [][2]float64, maxShift int) (rmse float64, shift int, ok bool) {
	rmse = math.MaxFloat64
	for s := -maxShift; s <= maxShift; s++ {
		p, q := pred, ref
		if s >= 0 {
			if s >= len(p) {
				continue
			}
			p = p[s:]
		} else {
			if -s >= len(q) {
				continue
			}
			q = q[-s:]
		}
		n := min(len(p), len(q))
		if n == 0 {
			continue
		}
		var sum float64
		for i := 0; i < n; i++ {
			dx, dy := p[i][0]-q[i][0], p[i][1]-q[i][1]
			sum += dx*dx + dy*dy
		}
		if e := math.Sqrt(sum / float64(n)); e < rmse {
			rmse, shift, ok = e, s, true
		}
	}
	return rmse, shift, ok
}
