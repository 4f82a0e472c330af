package server

import (
	"context"
	"errors"
	"io"
	"time"

	"blunav-go/binlog"
	"blunav-go/tracking"
)

// ReplayOptions controls a recording replay.
type ReplayOptions struct {
	// Speed scales wall-clock pacing; 0 replays as fast as possible.
	Speed float64
	// Tick is the estimation period in recording time.
	Tick time.Duration
	// LoadAnchors registers anchor blocks found in the recording.
	LoadAnchors bool
	Sinks       []tracking.Sink
}

type ReplayStats struct {
	Records int
	Packets int
	Reports int
	Anchors int
	Fixes   int
}

// Replay feeds a recording through the ingest path and runs the estimation
// cycle on the recording's own clock.
func (in *Ingest) Replay(ctx context.Context, rd *binlog.Reader, opts ReplayOptions) (ReplayStats, error) {
	var st ReplayStats
	if opts.Tick <= 0 {
		opts.Tick = time.Second
	}
	in.log.Info("replay start", "speed", opts.Speed, "tick", opts.Tick)

	var (
		first, last, nextTick time.Time
		startReal             time.Time
	)
	emit := func(at time.Time) {
		for _, f := range in.mgr.LocateAll(at) {
			st.Fixes++
			for _, s := range opts.Sinks {
				s.HandleFix(f)
			}
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return st, err
		}
		st.Records++

		if rec.Flag == binlog.FlagAnchor {
			if opts.LoadAnchors {
				anchors, err := rec.Anchors()
				if err != nil {
					in.log.Warn("bad anchor block", "err", err)
					continue
				}
				reg := in.mgr.Registry()
				for _, a := range anchors {
					reg.Add(a)
				}
				st.Anchors += len(anchors)
			}
			continue
		}
		if rec.IsMeta() {
			continue
		}

		if first.IsZero() {
			first = rec.Time
			nextTick = first.Add(opts.Tick)
			startReal = time.Now()
		} else if opts.Speed > 0 {
			target := time.Duration(float64(rec.Time.Sub(first)) / opts.Speed)
			if wait := target - time.Since(startReal); wait > 0 {
				if err := sleepCtx(ctx, wait); err != nil {
					return st, err
				}
			}
		}

		for !rec.Time.Before(nextTick) {
			emit(nextTick)
			nextTick = nextTick.Add(opts.Tick)
		}

		st.Packets++
		st.Reports += in.HandlePacket(rec.Payload, rec.Addr(), rec.Time)
		last = rec.Time
	}

	if !last.IsZero() {
		emit(last)
	}
	in.log.Info("replay done", "records", st.Records, "reports", st.Reports, "fixes", st.Fixes, "skipped", rd.Skipped)
	return st, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
