package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"blunav-go/internal/config"
	"blunav-go/positioning"
)

var (
	unitName string
	asYAML   bool
)

var rootCmd = &cobra.Command{
	Use:   "fitmodel <calibration.csv>",
	Short: "Fit rssi = a + b*log10(d) from calibration readings",
	Long: `The CSV holds one reading per row: distance,rssi. Distances are in --unit.
A header row and blank or # lines are skipped.`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		unit, err := positioning.ParseUnit(unitName)
		if err != nil {
			return err
		}
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		samples, err := readSamples(f)
		if err != nil {
			return err
		}
		res, err := positioning.FitModel(samples, unit)
		if err != nil {
			return err
		}
		return report(cmd.OutOrStdout(), res)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&unitName, "unit", "u", "cm", "distance unit of the CSV and the fitted model")
	rootCmd.Flags().BoolVar(&asYAML, "yaml", false, "print a model: section for the config file")
}

func readSamples(r io.Reader) ([]positioning.CalibrationSample, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var out []positioning.CalibrationSample
	line := 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		if len(rec) < 2 {
			return nil, fmt.Errorf("line %d: want distance,rssi", line)
		}
		d, errD := strconv.ParseFloat(strings.TrimSpace(rec[0]), 64)
		rssi, errR := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		if errD != nil || errR != nil {
			if line == 1 {
				continue
			}
			return nil, fmt.Errorf("line %d: %q is not numeric", line, strings.Join(rec, ","))
		}
		out = append(out, positioning.CalibrationSample{Distance: d, RSSI: rssi})
	}
	return out, nil
}

func report(w io.Writer, res positioning.FitResult) error {
	m := res.Model
	if !asYAML {
		fmt.Fprintf(w, "%s\n", m.String())
		fmt.Fprintf(w, "a=%.3f b=%.3f n=%.3f r2=%.4f samples=%d\n", m.A, m.B, m.N, res.R2, res.Samples)
		if err := m.Validate(); err != nil {
			fmt.Fprintf(w, "warning: %v\n", err)
		}
		return nil
	}
	out := struct {
		Model config.ModelConfig `yaml:"model"`
	}{config.ModelConfig{Kind: m.Kind, A: m.A, B: m.B, N: m.N, Unit: m.Unit.String()}}
	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(out)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
