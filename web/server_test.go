package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blunav-go/positioning"
	"blunav-go/publish"
	"blunav-go/tracking"
)

var ids = []string{"20:A7:16:5E:C5:D6", "20:A7:16:61:0C:F1", "20:A7:16:60:FB:FC"}

func newTestServer(t *testing.T) (*Server, *tracking.Manager) {
	t.Helper()
	reg := positioning.NewRegistry(
		positioning.Anchor{ID: ids[0], X: 764, Y: 216, Z: 63},
		positioning.Anchor{ID: ids[1], X: 0, Y: 152, Z: 157},
		positioning.Anchor{ID: ids[2], X: 309, Y: 748, Z: 63},
	)
	mgr := tracking.NewManager(reg, tracking.Config{
		Estimator:    positioning.NewEstimator(positioning.DefaultModel(), positioning.Exact{}),
		SmootherKind: positioning.SmootherAxis,
		ProcessNoise: 0.001,
		MeasureNoise: 0.1,
	}, nil)
	return NewServer(mgr, reg, nil), mgr
}

func TestTagsAndHistory(t *testing.T) {
	s, mgr := newTestServer(t)
	now := time.Now()
	for i, id := range ids {
		mgr.Observe("T1", positioning.Measurement{BeaconID: id, RSSI: []int16{-52, -77, -86}[i], Time: now})
	}
	for _, f := range mgr.LocateAll(now) {
		s.HandleFix(f)
	}
	for _, f := range mgr.LocateAll(now.Add(500 * time.Millisecond)) {
		s.HandleFix(f)
	}

	ts := httptest.NewServer(s.Handler(""))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/tags")
	require.NoError(t, err)
	var tags []publish.Position
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tags))
	resp.Body.Close()
	require.Len(t, tags, 1)
	assert.Equal(t, "T1", tags[0].Tag)
	assert.Equal(t, uint32(2), tags[0].Seq)

	resp, err = http.Get(ts.URL + "/api/tags/T1/history?n=1")
	require.NoError(t, err)
	var hist historyResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&hist))
	resp.Body.Close()
	assert.Len(t, hist.Results, 1)
	require.NotNil(t, hist.Average)
	assert.Equal(t, "average_last_1", hist.Average.Method)

	resp, err = http.Get(ts.URL + "/api/tags/nope/history")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/api/tags/T1/history?n=x")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/api/anchors")
	require.NoError(t, err)
	var anchors []positioning.Anchor
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&anchors))
	resp.Body.Close()
	assert.Len(t, anchors, 3)
}

func TestWebsocketBroadcast(t *testing.T) {
	s, _ := newTestServer(t)
	go s.Hub.Run()
	defer s.Hub.Close()

	ts := httptest.NewServer(s.Handler(""))
	defer ts.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer ws.Close()

	fix := tracking.Fix{Tag: "T9", Seq: 4, Result: positioning.LocationResult{X: 1, Y: 2, Method: positioning.MethodExact, BeaconCount: 3}}
	deadline := time.Now().Add(3 * time.Second)
	require.NoError(t, ws.SetReadDeadline(deadline))

	// registration is asynchronous; rebroadcast until the client sees one
	got := make(chan publish.Position, 1)
	go func() {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var p publish.Position
		if json.Unmarshal(msg, &p) == nil {
			got <- p
		}
	}()
	for {
		s.HandleFix(fix)
		select {
		case p := <-got:
			assert.Equal(t, "T9", p.Tag)
			assert.Equal(t, uint32(4), p.Seq)
			return
		case <-time.After(50 * time.Millisecond):
			if time.Now().After(deadline) {
				t.Fatal("no websocket message")
			}
		}
	}
}

func TestMetricsMount(t *testing.T) {
	s, _ := newTestServer(t)
	s.SetMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	rec := httptest.NewRecorder()
	s.Handler("").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, "ok", rec.Body.String())
}
