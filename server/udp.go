package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"blunav-go/binlog"
	"blunav-go/internal/logx"
	"blunav-go/positioning"
	"blunav-go/tracking"
)

const (
	DefaultPort   = 44333
	MaxPacketSize = 65535
	readBufSize   = 256 * 1024
)

// FrameObserver is told about every decoded frame and every decode failure.
type FrameObserver interface {
	ObserveFrame(typ uint16)
	ObserveFrameError(err error)
}

// Ingest turns gateway datagrams into tracker observations.
type Ingest struct {
	mgr       *tracking.Manager
	log       *logx.Logger
	obs       FrameObserver
	verifyCRC bool

	mu     sync.Mutex
	pcap   *binlog.Writer
	lastGw map[string]*net.UDPAddr
}

func NewIngest(mgr *tracking.Manager, log *logx.Logger) *Ingest {
	if log == nil {
		log = logx.Nop()
	}
	return &Ingest{
		mgr:       mgr,
		log:       log,
		verifyCRC: true,
		lastGw:    make(map[string]*net.UDPAddr),
	}
}

// SetRecorder captures every accepted packet to pw.
func (in *Ingest) SetRecorder(pw *binlog.Writer) {
	in.mu.Lock()
	in.pcap = pw
	in.mu.Unlock()
}

func (in *Ingest) SetObserver(o FrameObserver) { in.obs = o }

// SetVerifyCRC toggles crc checking; old captures were written without one.
func (in *Ingest) SetVerifyCRC(v bool) { in.verifyCRC = v }

// Gateway returns the last gateway that relayed a report for tag.
func (in *Ingest) Gateway(tag string) (*net.UDPAddr, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	a, ok := in.lastGw[tag]
	return a, ok
}

// HandlePacket decodes one datagram and feeds its readings, stamped ts, to
// the manager. It returns the number of reports accepted.
func (in *Ingest) HandlePacket(data []byte, addr *net.UDPAddr, ts time.Time) int {
	reports, packets, err := Decode(data, in.verifyCRC)
	if err != nil {
		in.log.Debug("decode", "from", addr, "err", err)
		if in.obs != nil {
			in.obs.ObserveFrameError(err)
		}
	}

	in.mu.Lock()
	if in.pcap != nil {
		for _, p := range packets {
			if werr := in.pcap.WritePacketAt(ts, binlog.FlagPacket, addr, p.Raw); werr != nil {
				in.log.Warn("pcap write failed", "err", werr)
			}
		}
	}
	for _, r := range reports {
		if addr != nil {
			in.lastGw[r.Tag()] = addr
		}
	}
	in.mu.Unlock()

	for _, p := range packets {
		if in.obs != nil {
			in.obs.ObserveFrame(p.Type)
		}
	}
	for _, r := range reports {
		ms := make([]positioning.Measurement, len(r.Samples))
		for i, s := range r.Samples {
			ms[i] = positioning.Measurement{BeaconID: s.BeaconID, RSSI: s.RSSI, Time: ts}
		}
		in.mgr.Observe(r.Tag(), ms...)
	}
	return len(reports)
}

// UDPServer receives gateway datagrams on a socket.
type UDPServer struct {
	*Ingest
	conn *net.UDPConn
}

// ListenUDP binds addr (":44333" style; empty uses DefaultPort).
func ListenUDP(addr string, in *Ingest) (*UDPServer, error) {
	if addr == "" {
		addr = fmt.Sprintf(":%d", DefaultPort)
	}
	ua, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", ua)
	if err != nil {
		return nil, err
	}
	conn.SetReadBuffer(readBufSize)
	return &UDPServer{Ingest: in, conn: conn}, nil
}

func (s *UDPServer) LocalAddr() net.Addr { return s.conn.LocalAddr() }

// Serve reads datagrams until ctx is done.
func (s *UDPServer) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()
	s.log.Info("udp server listening", "addr", s.conn.LocalAddr().String())

	buf := make([]byte, MaxPacketSize)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return ctx.Err()
			}
			s.log.Warn("read error", "err", err)
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		s.HandlePacket(data, addr, time.Now())
	}
}

func (s *UDPServer) Close() error { return s.conn.Close() }

// SendCommand sends a framed command to the gateway that last relayed tag.
func (s *UDPServer) SendCommand(tag string, addr uint32, typ uint16, body []byte) error {
	gw, ok := s.Gateway(tag)
	if !ok {
		return fmt.Errorf("gateway for tag %s not found", tag)
	}
	pkt, err := EncodePacket(addr, typ, 0, body)
	if err != nil {
		return err
	}
	_, err = s.conn.WriteToUDP(pkt, gw)
	return err
}
