package binlog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/google/gopacket/pcapgo"

	"blunav-go/positioning"
)

// Record is one pcap record with its phdr2 prefix split out.
type Record struct {
	Time    time.Time
	Flag    uint16
	Port    uint16
	IP      net.IP
	Payload []byte
}

// Addr is the datagram source the record was captured from.
func (r Record) Addr() *net.UDPAddr {
	return &net.UDPAddr{IP: r.IP, Port: int(r.Port)}
}

// IsMeta reports anchor and statistics blocks.
func (r Record) IsMeta() bool {
	return r.Flag == FlagAnchor || r.Flag == FlagStats
}

// Anchors decodes an anchor block.
func (r Record) Anchors() ([]positioning.Anchor, error) {
	if r.Flag != FlagAnchor {
		return nil, fmt.Errorf("record flag 0x%x is not an anchor block", r.Flag)
	}
	return decodeAnchors(r.Payload, int(r.Port))
}

type Reader struct {
	r *pcapgo.Reader
	c io.Closer

	// Skipped counts records too short to carry a phdr2 prefix.
	Skipped int
}

func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.c = f
	return r, nil
}

func NewReader(in io.Reader) (*Reader, error) {
	r, err := pcapgo.NewReader(in)
	if err != nil {
		return nil, fmt.Errorf("pcap header: %w", err)
	}
	return &Reader{r: r}, nil
}

// Next returns the next record, or io.EOF at the end. A truncated final
// record also ends the stream.
func (rd *Reader) Next() (Record, error) {
	for {
		data, ci, err := rd.r.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return Record{}, io.EOF
			}
			return Record{}, err
		}
		if len(data) < Phdr2Len {
			rd.Skipped++
			continue
		}
		ip := make(net.IP, 4)
		copy(ip, data[4:8])
		return Record{
			Time:    ci.Timestamp,
			Flag:    binary.LittleEndian.Uint16(data[0:2]),
			Port:    binary.LittleEndian.Uint16(data[2:4]),
			IP:      ip,
			Payload: data[Phdr2Len:],
		}, nil
	}
}

// ReadAll drains the reader.
func (rd *Reader) ReadAll() ([]Record, error) {
	var out []Record
	for {
		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}

func (rd *Reader) Close() error {
	if rd.c != nil {
		return rd.c.Close()
	}
	return nil
}
