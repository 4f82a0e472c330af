package publish

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"blunav-go/internal/logx"
	"blunav-go/tracking"
)

type message struct {
	data []byte
	flag uint32
}

type udpTarget struct {
	addr *net.UDPAddr
	flag uint32
}

type tcpClient struct {
	addr  string
	flag  uint32
	queue chan message
	stop  chan struct{}
	log   *logx.Logger
	wg    sync.WaitGroup
}

// Sender fans messages out to UDP and TCP targets by flag.
type Sender struct {
	udpTargets []*udpTarget
	tcpClients []*tcpClient
	connUDP    *net.UDPConn
	header     []byte
	running    atomic.Bool
	log        *logx.Logger
	dropped    atomic.Uint64
}

func NewSender(log *logx.Logger) *Sender {
	if log == nil {
		log = logx.Nop()
	}
	return &Sender{log: log}
}

// SetHeader prefixes every message with hdr and a colon.
func (s *Sender) SetHeader(hdr string) {
	if hdr == "" {
		s.header = nil
		return
	}
	s.header = []byte(hdr + ":")
}

func (s *Sender) AddUDPTarget(addr string, flag uint32) error {
	uaddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	s.udpTargets = append(s.udpTargets, &udpTarget{addr: uaddr, flag: flag})
	return nil
}

func (s *Sender) AddTCPTarget(addr string, flag uint32) {
	s.tcpClients = append(s.tcpClients, &tcpClient{
		addr:  addr,
		flag:  flag,
		queue: make(chan message, tcpQueueLen),
		stop:  make(chan struct{}),
		log:   s.log.With("target", addr),
	})
}

func (s *Sender) Start() error {
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return err
	}
	s.connUDP = conn
	s.running.Store(true)
	for _, c := range s.tcpClients {
		c.wg.Add(1)
		go c.loop()
	}
	return nil
}

// Stop closes the UDP socket and ends the TCP loops. Messages still queued
// are discarded.
func (s *Sender) Stop() {
	if !s.running.Swap(false) {
		return
	}
	if s.connUDP != nil {
		s.connUDP.Close()
	}
	for _, c := range s.tcpClients {
		close(c.stop)
		c.wg.Wait()
	}
}

// Dropped counts TCP messages discarded because a queue was full.
func (s *Sender) Dropped() uint64 { return s.dropped.Load() }

func (s *Sender) Send(data []byte, flag uint32) {
	if !s.running.Load() {
		return
	}
	msg := data
	if len(s.header) > 0 {
		msg = make([]byte, len(s.header)+len(data))
		copy(msg, s.header)
		copy(msg[len(s.header):], data)
	}

	for _, t := range s.udpTargets {
		if t.flag&flag == flag {
			if _, err := s.connUDP.WriteToUDP(msg, t.addr); err != nil {
				s.log.Debug("udp send failed", "target", t.addr.String(), "err", err)
			}
		}
	}
	for _, c := range s.tcpClients {
		if c.flag&flag == flag {
			select {
			case c.queue <- message{data: msg, flag: flag}:
			default:
				s.dropped.Add(1)
			}
		}
	}
}

// HandleFix sends the display line and the JSON form of f.
func (s *Sender) HandleFix(f tracking.Fix) {
	s.Send(FormatPosition(f.Tag, f.Seq, f.Result), FlagPosition)
	if b, err := FormatJSON(f.Tag, f.Session, f.Seq, f.Result); err == nil {
		s.Send(b, FlagJSON)
	}
}

func (c *tcpClient) loop() {
	defer c.wg.Done()
	var conn net.Conn
	connect := func() bool {
		if conn != nil {
			return true
		}
		var err error
		conn, err = net.DialTimeout("tcp", c.addr, tcpDialTimeout)
		if err != nil {
			conn = nil
			return false
		}
		return true
	}

	defer func() {
		if conn != nil {
			conn.Close()
		}
	}()

	for {
		var msg message
		select {
		case <-c.stop:
			if n := len(c.queue); n > 0 {
				c.log.Debug("discarding queued messages", "count", n)
			}
			return
		case msg = <-c.queue:
		}
		if !connect() {
			select {
			case <-c.stop:
				return
			case <-time.After(tcpRetryDelay):
			}
			if !connect() {
				continue
			}
		}
		conn.SetWriteDeadline(time.Now().Add(tcpWriteTimeout))
		if _, err := conn.Write(msg.data); err != nil {
			c.log.Warn("tcp write failed", "err", err)
			conn.Close()
			conn = nil
		}
	}
}
