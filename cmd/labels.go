package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/conneroisu/tessera/internal/regionio"
	"github.com/conneroisu/tessera/internal/streaming"
)

var titler = cases.Title(language.English)

// label turns a snake_case key into a heading: "sweep_saves" becomes
// "Sweep Saves".
func label(key string) string {
	return titler.String(strings.ReplaceAll(key, "_", " "))
}

// printStats writes a human-readable summary of controller statistics.
func printStats(w io.Writer, st streaming.Stats) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "%s\n", label("cache"))
	for _, row := range []struct {
		key   string
		value interface{}
	}{
		{"entries", st.Cache.Entries},
		{"dirty", st.Cache.Dirty},
		{"checkouts", st.Cache.Checkouts},
		{"evictions", st.Cache.Evictions},
		{"sweep_saves", st.Cache.SweepSaves},
		{"invalidations", st.Cache.Invalidations},
	} {
		fmt.Fprintf(tw, "  %s\t%v\n", label(row.key), row.value)
	}

	fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", label("region_io"),
		label("requests"), label("completed"), label("failed"), label("denied"), label("success_rate"), label("average_duration"))
	for _, k := range regionio.Kinds() {
		ks := st.IO.Of(k)
		fmt.Fprintf(tw, "  %s\t%d\t%d\t%d\t%d\t%.1f%%\t%s\n", label(k.String()),
			ks.Requests, ks.Completed, ks.Failed, ks.Denied, ks.SuccessRate(), ks.AverageDuration)
	}
	fmt.Fprintf(tw, "%s\t%d\n", label("failures"), st.Failures)
	return tw.Flush()
}
