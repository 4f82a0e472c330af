package binlog

import (
	"encoding/binary"
	"fmt"
	"math"

	"blunav-go/positioning"
)

// Anchor items are: id len u8, id, name len u8, name, x y z as float64 LE.
func encodeAnchors(anchors []positioning.Anchor) ([]byte, error) {
	if len(anchors) > math.MaxUint16 {
		return nil, fmt.Errorf("too many anchors: %d", len(anchors))
	}
	var out []byte
	for _, a := range anchors {
		if len(a.ID) > 0xFF || len(a.Name) > 0xFF {
			return nil, fmt.Errorf("anchor %q: id or name longer than 255 bytes", a.ID)
		}
		out = append(out, byte(len(a.ID)))
		out = append(out, a.ID...)
		out = append(out, byte(len(a.Name)))
		out = append(out, a.Name...)
		for _, v := range []float64{a.X, a.Y, a.Z} {
			out = binary.LittleEndian.AppendUint64(out, math.Float64bits(v))
		}
	}
	return out, nil
}

func decodeAnchors(payload []byte, itemnum int) ([]positioning.Anchor, error) {
	out := make([]positioning.Anchor, 0, itemnum)
	pos := 0
	str := func() (string, error) {
		if pos >= len(payload) {
			return "", fmt.Errorf("anchor block truncated at %d", pos)
		}
		n := int(payload[pos])
		if pos+1+n > len(payload) {
			return "", fmt.Errorf("anchor block truncated at %d", pos)
		}
		s := string(payload[pos+1 : pos+1+n])
		pos += 1 + n
		return s, nil
	}
	for i := 0; i < itemnum; i++ {
		id, err := str()
		if err != nil {
			return out, err
		}
		name, err := str()
		if err != nil {
			return out, err
		}
		if pos+24 > len(payload) {
			return out, fmt.Errorf("anchor %q coordinates truncated", id)
		}
		var xyz [3]float64
		for j := range xyz {
			xyz[j] = math.Float64frombits(binary.LittleEndian.Uint64(payload[pos : pos+8]))
			pos += 8
		}
		out = append(out, positioning.Anchor{ID: id, Name: name, X: xyz[0], Y: xyz[1], Z: xyz[2]})
	}
	return out, nil
}
