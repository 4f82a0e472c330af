package server

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blunav-go/binlog"
	"blunav-go/positioning"
	"blunav-go/tracking"
)

var demoAnchors = []positioning.Anchor{
	{ID: "20:A7:16:5E:C5:D6", Name: "RFstar_C5D6", X: 764, Y: 216, Z: 63},
	{ID: "20:A7:16:61:0C:F1", Name: "RFstar_0CF1", X: 0, Y: 152, Z: 157},
	{ID: "20:A7:16:60:FB:FC", Name: "RFstar_FBFC", X: 309, Y: 748, Z: 63},
}

func newManager(reg *positioning.Registry) *tracking.Manager {
	return tracking.NewManager(reg, tracking.Config{
		Estimator:    positioning.NewEstimator(positioning.DefaultModel(), positioning.Exact{}),
		SmootherKind: positioning.SmootherNone,
		MaxAge:       5 * time.Second,
	}, nil)
}

func demoFrame(t *testing.T, addr uint32, seq uint8, rssi [3]int16) []byte {
	t.Helper()
	samples := make([]Sample, 3)
	for i, a := range demoAnchors {
		samples[i] = Sample{BeaconID: a.ID, RSSI: rssi[i]}
	}
	frame, err := EncodeReport(addr, seq, samples)
	require.NoError(t, err)
	return frame
}

type countingObserver struct {
	mu     sync.Mutex
	frames map[uint16]int
	errs   int
}

func (o *countingObserver) ObserveFrame(typ uint16) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.frames == nil {
		o.frames = map[uint16]int{}
	}
	o.frames[typ]++
}

func (o *countingObserver) ObserveFrameError(error) {
	o.mu.Lock()
	o.errs++
	o.mu.Unlock()
}

func TestIngestHandlePacket(t *testing.T) {
	mgr := newManager(positioning.NewRegistry(demoAnchors...))
	in := NewIngest(mgr, nil)
	obs := &countingObserver{}
	in.SetObserver(obs)

	var rec bytes.Buffer
	pw, err := binlog.NewWriter(&rec)
	require.NoError(t, err)
	in.SetRecorder(pw)

	gw := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 7), Port: 5000}
	now := time.Now()
	batch, err := EncodeBatch(0x11, -40, demoFrame(t, 0xA1, 1, [3]int16{-52, -77, -86}))
	require.NoError(t, err)
	corrupt := demoFrame(t, 0xA2, 1, [3]int16{-60, -60, -60})
	corrupt[len(corrupt)-1] ^= 0xFF

	n := in.HandlePacket(append(batch, corrupt...), gw, now)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, obs.frames[TypeBatch])
	assert.Equal(t, 1, obs.errs)

	got, ok := in.Gateway(TagName(0xA1))
	require.True(t, ok)
	assert.Equal(t, gw.String(), got.String())
	_, ok = in.Gateway(TagName(0xA2))
	assert.False(t, ok)

	tr, ok := mgr.Lookup("000000A1")
	require.True(t, ok)
	assert.Equal(t, 3, tr.Readings())

	fixes := mgr.LocateAll(now)
	require.Len(t, fixes, 1)
	assert.Equal(t, positioning.MethodExact, fixes[0].Result.Method)

	rd, err := binlog.NewReader(&rec)
	require.NoError(t, err)
	recs, err := rd.ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, uint16(binlog.FlagPacket), recs[0].Flag)
	assert.Equal(t, batch, recs[0].Payload)
	assert.Equal(t, uint16(5000), recs[0].Port)
}

func TestIngestSkipsCRCWhenDisabled(t *testing.T) {
	mgr := newManager(positioning.NewRegistry(demoAnchors...))
	in := NewIngest(mgr, nil)
	in.SetVerifyCRC(false)

	frame := demoFrame(t, 0xB1, 2, [3]int16{-60, -70, -80})
	frame[len(frame)-1] ^= 0xFF
	assert.Equal(t, 1, in.HandlePacket(frame, nil, time.Now()))
}

func TestUDPServerServe(t *testing.T) {
	mgr := newManager(positioning.NewRegistry(demoAnchors...))
	srv, err := ListenUDP("127.0.0.1:0", NewIngest(mgr, nil))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	conn, err := net.DialUDP("udp", nil, srv.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer conn.Close()

	frame := demoFrame(t, 0xC1, 3, [3]int16{-52, -77, -86})
	require.Eventually(t, func() bool {
		conn.Write(frame)
		tr, ok := mgr.Lookup("000000C1")
		return ok && tr.Readings() == 3
	}, 3*time.Second, 20*time.Millisecond)

	// downlink goes back to the sender's socket
	require.NoError(t, srv.SendCommand("000000C1", 0xC1, 0x70, []byte{1, 2}))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	pkt, err := ParsePacket(buf[:n], true)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x70), pkt.Type)
	assert.Equal(t, []byte{1, 2}, pkt.Body)

	assert.Error(t, srv.SendCommand("nobody", 1, 0x70, nil))

	cancel()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(3 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestReplay(t *testing.T) {
	var buf bytes.Buffer
	pw, err := binlog.NewWriter(&buf)
	require.NoError(t, err)
	require.NoError(t, pw.WriteAnchors(demoAnchors))

	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	gw := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 44333}
	for i := 0; i < 6; i++ {
		frame := demoFrame(t, 0xD1, uint8(i), [3]int16{-52, -77, -86})
		require.NoError(t, pw.WritePacketAt(start.Add(time.Duration(i)*400*time.Millisecond), binlog.FlagPacket, gw, frame))
	}

	// anchors come from the recording only
	mgr := newManager(positioning.NewRegistry())
	in := NewIngest(mgr, nil)
	rd, err := binlog.NewReader(&buf)
	require.NoError(t, err)

	var fixes []tracking.Fix
	st, err := in.Replay(context.Background(), rd, ReplayOptions{
		Tick:        time.Second,
		LoadAnchors: true,
		Sinks:       []tracking.Sink{tracking.SinkFunc(func(f tracking.Fix) { fixes = append(fixes, f) })},
	})
	require.NoError(t, err)
	assert.Equal(t, 7, st.Records)
	assert.Equal(t, 6, st.Packets)
	assert.Equal(t, 6, st.Reports)
	assert.Equal(t, 3, st.Anchors)
	assert.Equal(t, 3, mgr.Registry().Len())
	// ticks at +1s and +2s, then a final estimate at the last record
	require.Len(t, fixes, 3)
	assert.Equal(t, st.Fixes, len(fixes))
	assert.True(t, start.Add(time.Second).Equal(fixes[0].Result.Timestamp))
	assert.True(t, start.Add(2*time.Second).Equal(fixes[2].Result.Timestamp))
	assert.Equal(t, uint32(3), fixes[2].Seq)
}

func TestReplayCancelled(t *testing.T) {
	var buf bytes.Buffer
	pw, err := binlog.NewWriter(&buf)
	require.NoError(t, err)
	require.NoError(t, pw.WritePacket(binlog.FlagPacket, nil, []byte{1}))

	rd, err := binlog.NewReader(&buf)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewIngest(newManager(positioning.NewRegistry()), nil).Replay(ctx, rd, ReplayOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}
