package main

import (
	"errors"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/danielpatrickdp/scenario-miner/internal/store"
)

// plotFitness draws best and average fitness per generation.
func plotFitness(stats []store.GenerationStats, title, outPath string) error {
	if len(stats) == 0 {
		return errors.New("run has no evaluated generations")
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Generation"
	p.Y.Label.Text = "Fitness"
	p.Y.Min, p.Y.Max = 0, 1

	best := make(plotter.XYs, len(stats))
	avg := make(plotter.XYs, len(stats))
	for i, g := range stats {
		best[i].X, best[i].Y = float64(g.Generation), g.Best
		avg[i].X, avg[i].Y = float64(g.Generation), g.Average
	}

	bestLine, err := plotter.NewLine(best)
	if err != nil {
		return err
	}
	avgLine, err := plotter.NewLine(avg)
	if err != nil {
		return err
	}
	avgLine.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}

	p.Add(bestLine, avgLine, plotter.NewGrid())
	p.Legend.Add("best", bestLine)
	p.Legend.Add("avg", avgLine)
	p.Legend.Top = true
	p.Legend.Left = true

	return p.Save(6*vg.Inch, 4*vg.Inch, outPath)
}
