package publish

import (
	"encoding/json"
	"fmt"

	"blunav-go/positioning"
)

const displayHeader = "display:   ,"

// FormatPosition renders one fix as a display line. Bytes 8..10 of the
// header carry the decimal line length.
func FormatPosition(tag string, seq uint32, r positioning.LocationResult) []byte {
	line := fmt.Sprintf("%s%s,%d,%s,%s,%.2f,%.2f,%.2f,%.3f,%.2f,%d\r\n",
		displayHeader, tag, seq, r.Timestamp.Format("20060102150405.000"), r.Method,
		r.X, r.Y, r.Z, r.Confidence, r.Error, r.BeaconCount)
	b := []byte(line)
	fillLength(b)
	return b
}

func fillLength(b []byte) {
	n := len(b)
	if n >= 100 {
		b[8] = byte('0' + (n/100)%10)
	}
	b[9] = byte('0' + (n/10)%10)
	b[10] = byte('0' + n%10)
}

// Position is the JSON shape of a fix.
type Position struct {
	Tag        string  `json:"tag"`
	Session    string  `json:"session,omitempty"`
	Seq        uint32  `json:"seq"`
	TS         int64   `json:"ts"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Unit       string  `json:"unit"`
	Confidence float64 `json:"confidence"`
	Error      float64 `json:"error"`
	Method     string  `json:"method"`
	Beacons    int     `json:"beacons"`
	Quality    float64 `json:"quality"`
}

func NewPosition(tag, session string, seq uint32, r positioning.LocationResult) Position {
	return Position{
		Tag:        tag,
		Session:    session,
		Seq:        seq,
		TS:         r.Timestamp.UnixMilli(),
		X:          r.X,
		Y:          r.Y,
		Z:          r.Z,
		Unit:       r.Unit.String(),
		Confidence: r.Confidence,
		Error:      r.Error,
		Method:     r.Method,
		Beacons:    r.BeaconCount,
		Quality:    r.QualityScore(),
	}
}

func FormatJSON(tag, session string, seq uint32, r positioning.LocationResult) ([]byte, error) {
	return json.Marshal(NewPosition(tag, session, seq, r))
}
