package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"

	"github.com/sibilla-sim/sibilla/sim"
	"github.com/sibilla-sim/sibilla/sim/remote"
	"github.com/sibilla-sim/sibilla/sim/sampling"
	"github.com/sibilla-sim/sibilla/sim/store"
)

// confidenceLevel of the intervals printed next to sampled means.
const confidenceLevel = 0.95

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

// printSeries prints one row per sampling time with the mean and the 95% interval
// half-width of every series.
func printSeries(w io.Writer, series []*sampling.TimeSeries) error {
	if outputFormat == "json" {
		return writeJSON(w, series)
	}
	if len(series) == 0 {
		_, err := fmt.Fprintln(w, "no series")
		return err
	}
	tw := newTable(w)
	header := []string{"time"}
	for _, ts := range series {
		header = append(header, ts.Name, "±")
	}
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for i, t := range series[0].Times {
		row := []string{fmt.Sprintf("%.4g", t)}
		for _, ts := range series {
			p := ts.Points[i]
			lo, hi := p.ConfidenceInterval(confidenceLevel)
			row = append(row, fmt.Sprintf("%.6g", p.Mean), fmt.Sprintf("%.3g", (hi-lo)/2))
		}
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

func printReachability(w io.Writer, cfg Scenario, res *sim.ReachabilityResult) error {
	if outputFormat == "json" {
		return writeJSON(w, res)
	}
	phi := cfg.Phi
	if phi == "" {
		phi = "true"
	}
	tw := newTable(w)
	fmt.Fprintf(tw, "query\tP(%s U<=%g %s)\n", phi, cfg.Deadline, cfg.Psi)
	fmt.Fprintf(tw, "probability\t%.6g\n", res.Probability)
	fmt.Fprintf(tw, "successes\t%d/%d\n", res.Successes, res.Samples)
	fmt.Fprintf(tw, "bound\t±%.4g (delta=%g)\n", res.Bound, res.Delta)
	return tw.Flush()
}

// printTrajectory prints one JSON object per line, or time and state columns.
func printTrajectory(w io.Writer, tr *remote.TrajectoryReply) error {
	if outputFormat == "json" {
		enc := json.NewEncoder(w)
		for _, p := range tr.Points {
			if err := enc.Encode(p); err != nil {
				return err
			}
		}
		return nil
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "time\tstate")
	for _, p := range tr.Points {
		fmt.Fprintf(tw, "%.6g\t%s\n", p.Time, p.State)
	}
	return tw.Flush()
}

func printModels(w io.Writer, models []remote.ModelInfo) error {
	if outputFormat == "json" {
		return writeJSON(w, models)
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "model\tmeasures\tpredicates")
	for _, m := range models {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", m.Name, strings.Join(m.Measures, ","), strings.Join(m.Predicates, ","))
	}
	return tw.Flush()
}

func printRuns(w io.Writer, runs []store.Run) error {
	if outputFormat == "json" {
		return writeJSON(w, runs)
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "id\tkind\tmodel\tseed\tdeadline\treplicas\tfailed\tcreated")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%g\t%d\t%d\t%s\n", r.ID, r.Kind, r.Model, r.Seed, r.Deadline,
			r.Stats.Completed+r.Stats.Cancelled, r.Stats.Failed, r.CreatedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}
