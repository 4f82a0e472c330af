package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"blunav-go/binlog"
	"blunav-go/internal/config"
	"blunav-go/internal/logx"
	"blunav-go/server"
	"blunav-go/tracking"
)

var (
	cfgFile  string
	outPath  string
	destAddr string
	speed    float64
	tick     time.Duration
	refPath  string
	refTag   string
	maxShift int
	v        = viper.New()
)

var rootCmd = &cobra.Command{
	Use:          "replay <recording.pcap>",
	Short:        "Run a recording through the trackers, or resend it to a live daemon",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if destAddr != "" {
			return resend(cmd.Context(), args[0])
		}
		return estimate(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.Flags().StringVarP(&cfgFile, "config", "c", "", "config file (yaml)")
	rootCmd.Flags().StringVarP(&outPath, "out", "o", "-", "CSV output path, - for stdout")
	rootCmd.Flags().StringVar(&destAddr, "dest", "", "resend frames to this UDP address instead of estimating")
	rootCmd.Flags().Float64Var(&speed, "speed", 0, "pacing multiplier, 0 for as fast as possible")
	rootCmd.Flags().DurationVar(&tick, "tick", 0, "estimation period in recording time (default tracking.interval)")
	rootCmd.Flags().StringVar(&refPath, "ref", "", "reference track CSV to score the output against")
	rootCmd.Flags().StringVar(&refTag, "ref-tag", "", "tag to score (default: the only tag)")
	rootCmd.Flags().IntVar(&maxShift, "max-shift", 400, "max frame shift searched when scoring")
	rootCmd.Flags().String("algorithm", "least_squares", "exact, weighted, least_squares or linear")
	v.BindPFlag("estimator.algorithm", rootCmd.Flags().Lookup("algorithm"))
}

func estimate(ctx context.Context, path string) error {
	cfg, err := config.LoadWith(v, cfgFile)
	if err != nil {
		return err
	}
	log := logx.NewWithOptions(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)

	model, err := cfg.Model.Build()
	if err != nil {
		return err
	}
	reg, err := cfg.Registry(model.Unit)
	if err != nil {
		return err
	}
	pipeline, err := cfg.Pipeline(model)
	if err != nil {
		return err
	}
	mgr := tracking.NewManager(reg, pipeline, log)
	ingest := server.NewIngest(mgr, log)
	ingest.SetVerifyCRC(cfg.Server.VerifyCRC)

	rd, err := binlog.Open(path)
	if err != nil {
		return err
	}
	defer rd.Close()

	out := io.Writer(os.Stdout)
	if outPath != "-" {
		f, err := os.Create(outPath)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	w := csv.NewWriter(out)
	defer w.Flush()
	w.Write([]string{"time", "tag", "seq", "method", "x", "y", "z", "raw_x", "raw_y", "confidence", "error", "beacons", "unit"})

	var werr error
	tracks := make(map[string][][2]float64)
	sink := tracking.SinkFunc(func(f tracking.Fix) {
		r := f.Result
		tracks[f.Tag] = append(tracks[f.Tag], [2]float64{r.X, r.Y})
		if err := w.Write([]string{
			r.Timestamp.Format(time.RFC3339Nano),
			f.Tag,
			strconv.FormatUint(uint64(f.Seq), 10),
			r.Method,
			ff(r.X), ff(r.Y), ff(r.Z),
			ff(f.Raw.X), ff(f.Raw.Y),
			strconv.FormatFloat(r.Confidence, 'f', 4, 64),
			ff(r.Error),
			strconv.Itoa(r.BeaconCount),
			r.Unit.String(),
		}); err != nil && werr == nil {
			werr = err
		}
	})

	if tick <= 0 {
		tick = cfg.Tracking.Interval
	}
	st, err := ingest.Replay(ctx, rd, server.ReplayOptions{
		Speed:       speed,
		Tick:        tick,
		LoadAnchors: reg.Len() == 0,
		Sinks:       []tracking.Sink{sink},
	})
	if err != nil {
		return err
	}
	w.Flush()
	if werr == nil {
		werr = w.Error()
	}
	log.Info("replay finished", "records", st.Records, "reports", st.Reports, "fixes", st.Fixes, "tags", len(mgr.Tags()))
	if werr != nil || refPath == "" {
		return werr
	}
	return score(tracks)
}

func score(tracks map[string][][2]float64) error {
	tag := refTag
	if tag == "" {
		if len(tracks) != 1 {
			return fmt.Errorf("%d tags in the recording, pick one with --ref-tag", len(tracks))
		}
		for t := range tracks {
			tag = t
		}
	}
	f, err := os.Open(refPath)
	if err != nil {
		return err
	}
	defer f.Close()
	ref, err := readXY(f, tag)
	if err != nil {
		return fmt.Errorf("%s: %w", refPath, err)
	}
	rmse, shift, ok := compareTracks(tracks[tag], ref, maxShift)
	if !ok {
		return fmt.Errorf("tag %s: no overlap with the reference track", tag)
	}
	fmt.Fprintf(os.Stderr, "tag %s: rmse %.3f at shift %d (%d fixes, %d reference points)\n",
		tag, rmse, shift, len(tracks[tag]), len(ref))
	return nil
}

func ff(x float64) string { return strconv.FormatFloat(x, 'f', 2, 64) }

// resend plays data frames back to a UDP listener with the recorded pacing.
func resend(ctx context.Context, path string) error {
	raddr, err := net.ResolveUDPAddr("udp", destAddr)
	if err != nil {
		return fmt.Errorf("invalid dest address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return err
	}
	defer conn.Close()

	rd, err := binlog.Open(path)
	if err != nil {
		return err
	}
	defer rd.Close()

	var (
		first     time.Time
		startReal time.Time
		count     int
	)
	for {
		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if rec.IsMeta() {
			continue
		}
		if first.IsZero() {
			first, startReal = rec.Time, time.Now()
		} else if speed > 0 {
			target := time.Duration(float64(rec.Time.Sub(first)) / speed)
			if wait := target - time.Since(startReal); wait > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(wait):
				}
			}
		}
		if _, err := conn.Write(rec.Payload); err != nil {
			fmt.Fprintf(os.Stderr, "write error: %v\n", err)
		}
		count++
		if count%1000 == 0 {
			fmt.Fprintf(os.Stderr, "\rsent %d packets...", count)
		}
	}
	fmt.Fprintf(os.Stderr, "\ndone, sent %d packets\n", count)
	return nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
