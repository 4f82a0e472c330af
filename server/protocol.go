package server

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strings"
)

const (
	Magic   = 0x7857 // 'W' 'x' little endian
	HdrLen  = 9
	WrapLen = 11 // header + trailing crc

	MaxBodyLen = 0x7FF
	MaxSamples = 15

	TypeRssiReport      = 0x60
	TypeRssiReportNamed = 0x61
	TypeBatch           = 0x48

	// FlagSeconds marks a one-byte seconds prefix ahead of the body.
	FlagSeconds = 0x2

	macLen       = 6
	batchHdrLen  = 6
	maxBeaconLen = 0xFF
)

var (
	ErrShortPacket = errors.New("packet too short")
	ErrBadMagic    = errors.New("invalid magic")
	ErrTruncated   = errors.New("packet body truncated")
	ErrCRC         = errors.New("crc mismatch")
)

type Header struct {
	Magic   uint16
	Addr    uint32
	Flags   uint8
	Type    uint16
	BodyLen int
}

// Packet is one framed unit: header, body and crc.
type Packet struct {
	Header
	Body     []byte
	Raw      []byte
	TotalLen int
}

// Sample is one beacon reading inside a report.
type Sample struct {
	BeaconID string
	RSSI     int16
}

// Report is the set of readings a tag sent in one frame.
type Report struct {
	Addr    uint32
	Type    uint16
	Seq     uint8
	Samples []Sample
}

// Tag is the tracker key for the reporting tag.
func (r Report) Tag() string { return TagName(r.Addr) }

func TagName(addr uint32) string { return fmt.Sprintf("%08X", addr) }

// ParseHeader reads the header at the start of data.
// Byte 6 is flags:3 typ_l:5, byte 7 typ_h:5 len_l:3, byte 8 len_h.
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HdrLen {
		return nil, ErrShortPacket
	}
	magic := binary.LittleEndian.Uint16(data[0:2])
	if magic != Magic {
		return nil, fmt.Errorf("%w: 0x%x", ErrBadMagic, magic)
	}
	b6, b7 := data[6], data[7]
	typLow := uint16(b6 >> 3)
	typHigh := uint16(b7 & 0x1F)
	lenLow := int(b7 >> 5)
	lenHigh := int(data[8])
	return &Header{
		Magic:   magic,
		Addr:    binary.LittleEndian.Uint32(data[2:6]),
		Flags:   b6 & 0x7,
		Type:    typLow + typHigh<<5,
		BodyLen: lenLow + lenHigh<<3,
	}, nil
}

// ParsePacket reads one packet at the start of data.
func ParsePacket(data []byte, verifyCRC bool) (*Packet, error) {
	hdr, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}
	end := HdrLen + hdr.BodyLen
	if end+2 > len(data) {
		return nil, ErrTruncated
	}
	if verifyCRC {
		if got, want := binary.LittleEndian.Uint16(data[end:end+2]), crc16(data[:end]); got != want {
			return nil, fmt.Errorf("%w: got 0x%04x want 0x%04x", ErrCRC, got, want)
		}
	}
	return &Packet{Header: *hdr, Body: data[HdrLen:end], Raw: data[:end+2], TotalLen: end + 2}, nil
}

// EncodePacket frames body and appends the crc.
func EncodePacket(addr uint32, typ uint16, flags uint8, body []byte) ([]byte, error) {
	if len(body) > MaxBodyLen {
		return nil, fmt.Errorf("body of %d bytes exceeds %d", len(body), MaxBodyLen)
	}
	if typ > 0x3FF {
		return nil, fmt.Errorf("type 0x%x out of range", typ)
	}
	out := make([]byte, HdrLen+len(body)+2)
	binary.LittleEndian.PutUint16(out[0:2], Magic)
	binary.LittleEndian.PutUint32(out[2:6], addr)
	out[6] = flags&0x7 | byte(typ&0x1F)<<3
	out[7] = byte(typ>>5)&0x1F | byte(len(body)&0x7)<<5
	out[8] = byte(len(body) >> 3)
	copy(out[HdrLen:], body)
	end := HdrLen + len(body)
	binary.LittleEndian.PutUint16(out[end:], crc16(out[:end]))
	return out, nil
}

// crc16 is CRC-16/CCITT (poly 0x1021, init 0, msb first).
func crc16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// ParseRssiReport decodes seq, count<<4, then count x (6-byte MAC, int8 rssi).
func ParseRssiReport(body []byte) (uint8, []Sample, error) {
	if len(body) < 2 {
		return 0, nil, fmt.Errorf("rssi report: %w", ErrShortPacket)
	}
	num := int(body[1] >> 4)
	base := 2
	samples := make([]Sample, 0, num)
	for i := 0; i < num; i++ {
		if base+macLen+1 > len(body) {
			return 0, nil, fmt.Errorf("rssi sample %d: %w", i, ErrTruncated)
		}
		mac := net.HardwareAddr(body[base : base+macLen])
		samples = append(samples, Sample{
			BeaconID: strings.ToUpper(mac.String()),
			RSSI:     int16(int8(body[base+macLen])),
		})
		base += macLen + 1
	}
	return body[0], samples, nil
}

// ParseRssiReportNamed decodes seq, count<<4, then count x (len, id, int8 rssi).
func ParseRssiReportNamed(body []byte) (uint8, []Sample, error) {
	if len(body) < 2 {
		return 0, nil, fmt.Errorf("named rssi report: %w", ErrShortPacket)
	}
	num := int(body[1] >> 4)
	base := 2
	samples := make([]Sample, 0, num)
	for i := 0; i < num; i++ {
		if base >= len(body) {
			return 0, nil, fmt.Errorf("named rssi sample %d: %w", i, ErrTruncated)
		}
		n := int(body[base])
		if base+1+n+1 > len(body) {
			return 0, nil, fmt.Errorf("named rssi sample %d: %w", i, ErrTruncated)
		}
		samples = append(samples, Sample{
			BeaconID: string(body[base+1 : base+1+n]),
			RSSI:     int16(int8(body[base+1+n])),
		})
		base += n + 2
	}
	return body[0], samples, nil
}

// EncodeRssiReport builds a TypeRssiReport body. Beacon ids must be MACs.
func EncodeRssiReport(seq uint8, samples []Sample) ([]byte, error) {
	if len(samples) > MaxSamples {
		return nil, fmt.Errorf("%d samples exceed %d", len(samples), MaxSamples)
	}
	body := make([]byte, 2, 2+len(samples)*(macLen+1))
	body[0] = seq
	body[1] = byte(len(samples)) << 4
	for _, s := range samples {
		mac, err := net.ParseMAC(s.BeaconID)
		if err != nil || len(mac) != macLen {
			return nil, fmt.Errorf("beacon id %q is not a 6-byte MAC", s.BeaconID)
		}
		body = append(body, mac...)
		body = append(body, byte(clampRSSI(s.RSSI)))
	}
	return body, nil
}

// EncodeRssiReportNamed builds a TypeRssiReportNamed body.
func EncodeRssiReportNamed(seq uint8, samples []Sample) ([]byte, error) {
	if len(samples) > MaxSamples {
		return nil, fmt.Errorf("%d samples exceed %d", len(samples), MaxSamples)
	}
	body := []byte{seq, byte(len(samples)) << 4}
	for _, s := range samples {
		if len(s.BeaconID) > maxBeaconLen {
			return nil, fmt.Errorf("beacon id %q too long", s.BeaconID)
		}
		body = append(body, byte(len(s.BeaconID)))
		body = append(body, s.BeaconID...)
		body = append(body, byte(clampRSSI(s.RSSI)))
	}
	return body, nil
}

// EncodeReport picks the MAC form when every id is a MAC.
func EncodeReport(addr uint32, seq uint8, samples []Sample) ([]byte, error) {
	typ := uint16(TypeRssiReport)
	for _, s := range samples {
		if mac, err := net.ParseMAC(s.BeaconID); err != nil || len(mac) != macLen {
			typ = TypeRssiReportNamed
			break
		}
	}
	var (
		body []byte
		err  error
	)
	if typ == TypeRssiReport {
		body, err = EncodeRssiReport(seq, samples)
	} else {
		body, err = EncodeRssiReportNamed(seq, samples)
	}
	if err != nil {
		return nil, err
	}
	return EncodePacket(addr, typ, 0, body)
}

// EncodeBatch wraps already framed packets the way a gateway uplink does.
func EncodeBatch(gateway uint32, rssi int16, frames ...[]byte) ([]byte, error) {
	body := make([]byte, batchHdrLen)
	binary.LittleEndian.PutUint32(body[0:4], gateway)
	binary.LittleEndian.PutUint16(body[4:6], uint16(rssi))
	for _, f := range frames {
		body = append(body, f...)
	}
	return EncodePacket(gateway, TypeBatch, 0, body)
}

func clampRSSI(v int16) int8 {
	if v < -128 {
		return -128
	}
	if v > 127 {
		return 127
	}
	return int8(v)
}

// DecodePacket turns a packet into reports, unwrapping batches. Unknown
// types yield no reports and no error.
func DecodePacket(pkt *Packet, parentFlags uint8, verifyCRC bool) ([]Report, error) {
	body := pkt.Body
	if (pkt.Flags|parentFlags)&FlagSeconds != 0 && len(body) > 0 {
		body = body[1:]
	}

	switch pkt.Type {
	case TypeBatch:
		offset := 4
		if len(body) >= batchHdrLen {
			offset = batchHdrLen
		}
		if len(body) < offset {
			return nil, fmt.Errorf("batch: %w", ErrShortPacket)
		}
		inner := body[offset:]
		var out []Report
		pos := 0
		for pos+WrapLen <= len(inner) {
			if binary.LittleEndian.Uint16(inner[pos:pos+2]) != Magic {
				pos++
				continue
			}
			in, err := ParsePacket(inner[pos:], verifyCRC)
			if err != nil {
				pos++
				continue
			}
			pos += in.TotalLen
			reps, err := DecodePacket(in, pkt.Flags, verifyCRC)
			if err != nil {
				return out, err
			}
			out = append(out, reps...)
		}
		return out, nil

	case TypeRssiReport, TypeRssiReportNamed:
		parse := ParseRssiReport
		if pkt.Type == TypeRssiReportNamed {
			parse = ParseRssiReportNamed
		}
		seq, samples, err := parse(body)
		if err != nil {
			return nil, err
		}
		return []Report{{Addr: pkt.Addr, Type: pkt.Type, Seq: seq, Samples: samples}}, nil
	}
	return nil, nil
}

// Decode splits a datagram into packets and decodes each. Bytes that do not
// start a valid packet are skipped. The first decode error is returned along
// with whatever decoded cleanly.
func Decode(data []byte, verifyCRC bool) ([]Report, []*Packet, error) {
	var (
		reports  []Report
		packets  []*Packet
		firstErr error
	)
	offset := 0
	for len(data)-offset >= WrapLen {
		pkt, err := ParsePacket(data[offset:], verifyCRC)
		if err != nil {
			if firstErr == nil && !errors.Is(err, ErrBadMagic) {
				firstErr = err
			}
			offset++
			continue
		}
		packets = append(packets, pkt)
		reps, err := DecodePacket(pkt, 0, verifyCRC)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		reports = append(reports, reps...)
		offset += pkt.TotalLen
	}
	return reports, packets, firstErr
}
