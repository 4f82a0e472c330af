package main

import (
	"context"
	"fmt"
	"image/color"
	"os"

	"github.com/spf13/cobra"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"blunav-go/internal/config"
	"blunav-go/positioning"
	"blunav-go/store"
)

var (
	dbPath  string
	cfgFile string
	outPath string
	limit   int
)

var rootCmd = &cobra.Command{
	Use:          "plot <tag>",
	Short:        "Render a tag's stored trajectory and the anchors to PNG",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(dbPath, nil)
		if err != nil {
			return err
		}
		defer st.Close()
		h, err := st.History(args[0], limit)
		if err != nil {
			return err
		}
		if h.Len() == 0 {
			return fmt.Errorf("no stored results for tag %s", args[0])
		}

		var anchors []positioning.Anchor
		if cfgFile != "" {
			cfg, err := config.Load(cfgFile)
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
			anchors = reg.All()
		}

		out := outPath
		if out == "" {
			out = fmt.Sprintf("track_%s.png", args[0])
		}
		if err := render(args[0], h.All(), anchors, out); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d points)\n", out, h.Len())
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVar(&dbPath, "db", "blunav.db", "sqlite result log")
	rootCmd.Flags().StringVarP(&cfgFile, "config", "c", "", "config file for anchor positions")
	rootCmd.Flags().StringVarP(&outPath, "out", "o", "", "output png (default track_<tag>.png)")
	rootCmd.Flags().IntVarP(&limit, "limit", "n", 0, "plot only the last n results")
}

func render(tag string, results []positioning.LocationResult, anchors []positioning.Anchor, path string) error {
	p := plot.New()
	unit := results[0].Unit.String()
	p.Title.Text = fmt.Sprintf("tag %s", tag)
	p.X.Label.Text = "x (" + unit + ")"
	p.Y.Label.Text = "y (" + unit + ")"
	p.Add(plotter.NewGrid())

	track := make(plotter.XYs, len(results))
	for i, r := range results {
		track[i] = plotter.XY{X: r.X, Y: r.Y}
	}
	line, points, err := plotter.NewLinePoints(track)
	if err != nil {
		return err
	}
	line.Width = vg.Points(1)
	line.Color = color.RGBA{R: 30, G: 90, B: 200, A: 255}
	points.Shape = draw.CircleGlyph{}
	points.Radius = vg.Points(1.5)
	points.Color = line.Color
	p.Add(line, points)
	p.Legend.Add("fixes", line, points)

	if len(anchors) > 0 {
		pts := make(plotter.XYs, len(anchors))
		names := make([]string, len(anchors))
		for i, a := range anchors {
			pts[i] = plotter.XY{X: a.X, Y: a.Y}
			names[i] = a.Name
			if names[i] == "" {
				names[i] = a.ID
			}
		}
		sc, err := plotter.NewScatter(pts)
		if err != nil {
			return err
		}
		sc.Shape = draw.TriangleGlyph{}
		sc.Radius = vg.Points(4)
		sc.Color = color.RGBA{R: 200, G: 40, B: 40, A: 255}
		labels, err := plotter.NewLabels(plotter.XYLabels{XYs: pts, Labels: names})
		if err != nil {
			return err
		}
		p.Add(sc, labels)
		p.Legend.Add("anchors", sc)
	}

	return p.Save(8*vg.Inch, 8*vg.Inch, path)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
