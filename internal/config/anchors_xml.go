package config

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"blunav-go/positioning"
)

// ParseBeaconList loads the <beaconlist> of a project.xml. Each deviceItem
// carries a hex or MAC id and a "x,y,z" position in centimeters. Items that
// do not parse are skipped.
func ParseBeaconList(path string, unit positioning.DistanceUnit) ([]positioning.Anchor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	anchors, err := DecodeBeaconList(f, unit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return anchors, nil
}

func DecodeBeaconList(r io.Reader, unit positioning.DistanceUnit) ([]positioning.Anchor, error) {
	dec := xml.NewDecoder(r)
	var anchors []positioning.Anchor
	inBeaconList := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return anchors, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "beaconlist" {
				inBeaconList = true
				continue
			}
			if t.Name.Local != "deviceItem" || !inBeaconList {
				continue
			}
			id, ok := attrValue(t, "id")
			if !ok || strings.TrimSpace(id) == "" {
				continue
			}
			pos, ok := attrValue(t, "pos")
			if !ok {
				continue
			}
			x, y, z, ok := parsePos(pos)
			if !ok {
				continue
			}
			name, _ := attrValue(t, "name")
			anchors = append(anchors, positioning.Anchor{
				ID:   NormalizeID(id),
				Name: name,
				X:    unit.FromMeters(positioning.Centimeters.ToMeters(x)),
				Y:    unit.FromMeters(positioning.Centimeters.ToMeters(y)),
				Z:    unit.FromMeters(positioning.Centimeters.ToMeters(z)),
			})
		case xml.EndElement:
			if t.Name.Local == "beaconlist" {
				inBeaconList = false
			}
		}
	}
	return anchors, nil
}

func parsePos(s string) (x, y, z float64, ok bool) {
	coords := strings.Split(s, ",")
	if len(coords) < 3 {
		return 0, 0, 0, false
	}
	var v [3]float64
	for i := range v {
		f, err := strconv.ParseFloat(strings.TrimSpace(coords[i]), 64)
		if err != nil {
			return 0, 0, 0, false
		}
		v[i] = f
	}
	return v[0], v[1], v[2], true
}

func attrValue(t xml.StartElement, name string) (string, bool) {
	for _, a := range t.Attr {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

// NormalizeID upper-cases an id and writes a bare 12-digit hex id as a
// colon separated MAC, the form the scanner reports.
func NormalizeID(id string) string {
	id = strings.ToUpper(strings.TrimSpace(id))
	id = strings.TrimPrefix(id, "0X")
	if len(id) != 12 {
		return id
	}
	if _, err := strconv.ParseUint(id, 16, 64); err != nil {
		return id
	}
	var b strings.Builder
	for i := 0; i < 12; i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(id[i : i+2])
	}
	return b.String()
}
