package binlog

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"blunav-go/positioning"
)

const (
	SnapLen = 65535

	// phdr2 precedes every payload: flag u16, port u16, ipv4 4 bytes.
	Phdr2Len = 8

	// FlagPacket is RX_PKT | RBB_PKT | PROT_UDP.
	FlagPacket = 0x109
	FlagAnchor = 0x04
	FlagStats  = 0x10
)

// LinkType is recorded in the file header; readers ignore it.
var LinkType = layers.LinkTypeEthernet

// Writer appends datagrams to a pcap file.
type Writer struct {
	mu  sync.Mutex
	w   *pcapgo.Writer
	c   io.Closer
	now func() time.Time
}

// Create opens path for writing and emits the file header.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.c = f
	return w, nil
}

func NewWriter(out io.Writer) (*Writer, error) {
	w := pcapgo.NewWriter(out)
	if err := w.WriteFileHeader(SnapLen, LinkType); err != nil {
		return nil, fmt.Errorf("pcap header: %w", err)
	}
	return &Writer{w: w, now: time.Now}, nil
}

// WritePacket records a datagram received from addr, stamped now.
func (pw *Writer) WritePacket(flag uint16, addr *net.UDPAddr, data []byte) error {
	return pw.WritePacketAt(pw.now(), flag, addr, data)
}

func (pw *Writer) WritePacketAt(ts time.Time, flag uint16, addr *net.UDPAddr, data []byte) error {
	buf := make([]byte, Phdr2Len+len(data))
	binary.LittleEndian.PutUint16(buf[0:], flag)
	if addr != nil {
		binary.LittleEndian.PutUint16(buf[2:], uint16(addr.Port))
		if ip4 := addr.IP.To4(); ip4 != nil {
			// network byte order, as the gateway tools expect
			copy(buf[4:8], ip4)
		}
	}
	copy(buf[Phdr2Len:], data)

	ci := gopacket.CaptureInfo{Timestamp: ts, CaptureLength: len(buf), Length: len(buf)}
	pw.mu.Lock()
	defer pw.mu.Unlock()
	return pw.w.WritePacket(ci, buf)
}

// WriteAnchors records the anchor table so a recording can be replayed
// without the original configuration. The item count goes in the port field.
func (pw *Writer) WriteAnchors(anchors []positioning.Anchor) error {
	payload, err := encodeAnchors(anchors)
	if err != nil {
		return err
	}
	buf := make([]byte, Phdr2Len+len(payload))
	binary.LittleEndian.PutUint16(buf[0:], FlagAnchor)
	binary.LittleEndian.PutUint16(buf[2:], uint16(len(anchors)))
	copy(buf[Phdr2Len:], payload)

	ci := gopacket.CaptureInfo{Timestamp: pw.now(), CaptureLength: len(buf), Length: len(buf)}
	pw.mu.Lock()
	defer pw.mu.Unlock()
	return pw.w.WritePacket(ci, buf)
}

func (pw *Writer) Close() error {
	if pw.c != nil {
		return pw.c.Close()
	}
	return nil
}
