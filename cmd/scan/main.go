package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"text/tabwriter"
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
	cfgFile   string
	verifyCRC bool
	v         = viper.New()
)

var rootCmd = &cobra.Command{
	Use:          "scan",
	Short:        "Inspect recordings",
	SilenceUsage: true,
}

var summaryCmd = &cobra.Command{
	Use:   "summary <recording.pcap>",
	Short: "Per-tag frame counts, beacons seen and fix bounding boxes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return summary(cmd.Context(), args[0], cmd.OutOrStdout())
	},
}

var diffCmd = &cobra.Command{
	Use:   "diff <original.pcap> <replayed.pcap>",
	Short: "Compare the data frames of two recordings",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return diff(args[0], args[1], cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (yaml)")
	summaryCmd.Flags().BoolVar(&verifyCRC, "crc", true, "reject frames with a bad crc")
	rootCmd.AddCommand(summaryCmd, diffCmd)
}

type tagStats struct {
	reports                int
	beacons                map[string]int
	fixes                  int
	minX, maxX, minY, maxY float64
	first, last            time.Time
}

func newTagStats() *tagStats {
	return &tagStats{
		beacons: make(map[string]int),
		minX:    math.Inf(1),
		maxX:    math.Inf(-1),
		minY:    math.Inf(1),
		maxY:    math.Inf(-1),
	}
}

func summary(ctx context.Context, path string, out io.Writer) error {
	cfg, err := config.LoadWith(v, cfgFile)
	if err != nil {
		return err
	}
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
	log := logx.NewWithOptions("warn", cfg.Logging.Format, os.Stderr)
	mgr := tracking.NewManager(reg, pipeline, log)

	stats := map[string]*tagStats{}
	get := func(tag string) *tagStats {
		s, ok := stats[tag]
		if !ok {
			s = newTagStats()
			stats[tag] = s
		}
		return s
	}

	rd, err := binlog.Open(path)
	if err != nil {
		return err
	}
	defer rd.Close()

	// first pass: frame contents
	var decodeErrs int
	recs, err := rd.ReadAll()
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if rec.IsMeta() {
			continue
		}
		reports, _, err := server.Decode(rec.Payload, verifyCRC)
		if err != nil {
			decodeErrs++
		}
		for _, r := range reports {
			s := get(r.Tag())
			s.reports++
			for _, smp := range r.Samples {
				s.beacons[smp.BeaconID]++
			}
			if s.first.IsZero() {
				s.first = rec.Time
			}
			s.last = rec.Time
		}
	}

	// second pass: estimates
	rd2, err := binlog.Open(path)
	if err != nil {
		return err
	}
	defer rd2.Close()
	ingest := server.NewIngest(mgr, log)
	ingest.SetVerifyCRC(verifyCRC)
	sink := tracking.SinkFunc(func(f tracking.Fix) {
		s := get(f.Tag)
		s.fixes++
		s.minX = math.Min(s.minX, f.Result.X)
		s.maxX = math.Max(s.maxX, f.Result.X)
		s.minY = math.Min(s.minY, f.Result.Y)
		s.maxY = math.Max(s.maxY, f.Result.Y)
	})
	if _, err := ingest.Replay(ctx, rd2, server.ReplayOptions{
		Tick:        cfg.Tracking.Interval,
		LoadAnchors: reg.Len() == 0,
		Sinks:       []tracking.Sink{sink},
	}); err != nil {
		return err
	}

	tags := make([]string, 0, len(stats))
	for t := range stats {
		tags = append(tags, t)
	}
	sort.Strings(tags)

	fmt.Fprintf(out, "%s: %d records, %d skipped, %d decode errors, %d anchors\n",
		path, len(recs), rd.Skipped, decodeErrs, reg.Len())
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TAG\tREPORTS\tBEACONS\tFIXES\tX RANGE\tY RANGE\tSPAN")
	for _, t := range tags {
		s := stats[t]
		xr, yr := "-", "-"
		if s.fixes > 0 {
			xr = fmt.Sprintf("[%.2f, %.2f]", s.minX, s.maxX)
			yr = fmt.Sprintf("[%.2f, %.2f]", s.minY, s.maxY)
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\t%s\t%s\n",
			t, s.reports, len(s.beacons), s.fixes, xr, yr, s.last.Sub(s.first).Round(time.Millisecond))
	}
	return tw.Flush()
}

func dataPayloads(path string) ([][]byte, error) {
	rd, err := binlog.Open(path)
	if err != nil {
		return nil, err
	}
	defer rd.Close()
	var out [][]byte
	for {
		rec, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		if !rec.IsMeta() {
			out = append(out, rec.Payload)
		}
	}
}

func diff(a, b string, out io.Writer) error {
	pkts1, err := dataPayloads(a)
	if err != nil {
		return fmt.Errorf("reading %s: %w", a, err)
	}
	pkts2, err := dataPayloads(b)
	if err != nil {
		return fmt.Errorf("reading %s: %w", b, err)
	}
	fmt.Fprintf(out, "original packets (data only): %d\n", len(pkts1))
	fmt.Fprintf(out, "replayed packets (data only): %d\n", len(pkts2))

	n := min(len(pkts1), len(pkts2))
	mismatches := 0
	for i := 0; i < n; i++ {
		if bytes.Equal(pkts1[i], pkts2[i]) {
			continue
		}
		fmt.Fprintf(out, "mismatch at packet %d: len1=%d len2=%d\n", i, len(pkts1[i]), len(pkts2[i]))
		mismatches++
		if mismatches > 10 {
			fmt.Fprintln(out, "too many mismatches, stopping")
			break
		}
	}
	if mismatches == 0 && len(pkts1) == len(pkts2) {
		fmt.Fprintln(out, "recordings match")
		return nil
	}
	return fmt.Errorf("recordings differ")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
