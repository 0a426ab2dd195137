package monitor

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/a-h/templ"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/conneroisu/tessera/internal/regionio"
)

var titler = cases.Title(language.English)

// label turns a snake_case key into a heading.
func label(key string) string {
	return titler.String(strings.ReplaceAll(key, "_", " "))
}

type row struct {
	key   string
	value interface{}
}

func statusPage(s *Server) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		report := s.Report()
		st := report.Stats

		p := &pageWriter{w: w}
		p.printf(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`)
		p.printf(`<title>%s</title>`, templ.EscapeString("tessera: "+report.World))
		p.printf(`<style>body{font-family:monospace;margin:2em}table{border-collapse:collapse;margin-bottom:1.5em}td,th{border:1px solid #ccc;padding:.2em .6em;text-align:left}</style>`)
		p.printf(`</head><body><h1>%s</h1>`, templ.EscapeString(report.World))
		p.printf(`<p>%s</p>`, templ.EscapeString(report.Time.Format("2006-01-02 15:04:05 MST")))

		p.table("cache", []row{
			{"entries", st.Cache.Entries},
			{"referenced", st.Cache.Referenced},
			{"dirty", st.Cache.Dirty},
			{"generated", st.Cache.Generated},
			{"checkouts", st.Cache.Checkouts},
			{"evictions", st.Cache.Evictions},
			{"sweep_saves", st.Cache.SweepSaves},
			{"sweep_save_failures", st.Cache.SweepSaveFailures},
			{"invalidations", st.Cache.Invalidations},
		})

		p.printf(`<h2>%s</h2><table><tr><th></th>`, label("region_io"))
		kinds := regionio.Kinds()
		for _, k := range kinds {
			p.printf(`<th>%s</th>`, label(k.String()))
		}
		p.printf(`</tr>`)
		for _, col := range []struct {
			key string
			get func(regionio.KindStats) int64
		}{
			{"requests", func(k regionio.KindStats) int64 { return k.Requests }},
			{"in_flight", regionio.KindStats.InFlight},
			{"completed", func(k regionio.KindStats) int64 { return k.Completed }},
			{"failed", func(k regionio.KindStats) int64 { return k.Failed }},
			{"denied", func(k regionio.KindStats) int64 { return k.Denied }},
			{"rejected", func(k regionio.KindStats) int64 { return k.Rejected }},
			{"aborted", func(k regionio.KindStats) int64 { return k.Aborted }},
		} {
			p.printf(`<tr><th>%s</th>`, label(col.key))
			for _, k := range kinds {
				p.printf(`<td>%d</td>`, col.get(st.IO.Of(k)))
			}
			p.printf(`</tr>`)
		}
		p.printf(`<tr><th>%s</th>`, label("success_rate"))
		for _, k := range kinds {
			p.printf(`<td>%.1f%%</td>`, st.IO.Of(k).SuccessRate())
		}
		p.printf(`</tr></table>`)

		p.table("pool", []row{
			{"workers", st.Pool.Workers},
			{"queued", st.Pool.Queued},
			{"capacity", st.Pool.Capacity},
			{"running", st.Pool.Running},
			{"rejected", st.Pool.Rejected},
			{"closed", st.Pool.Closed},
		})

		p.printf(`<h2>%s (%d)</h2>`, label("recent_failures"), st.Failures)
		if len(report.Failures) == 0 {
			p.printf(`<p>none</p>`)
		} else {
			p.printf(`<table><tr><th>%s</th><th>%s</th><th>%s</th><th>%s</th></tr>`,
				label("time"), label("op"), label("region"), label("message"))
			for _, f := range report.Failures {
				p.printf(`<tr><td>%s</td><td>%s</td><td>(%d,%d)</td><td>%s</td></tr>`,
					templ.EscapeString(f.Timestamp.Format("15:04:05")),
					templ.EscapeString(f.Op), f.X, f.Y,
					templ.EscapeString(f.Message))
			}
			p.printf(`</table>`)
		}

		p.printf(`<p>%s: <code>/stats</code>, <code>/failures</code>, <code>/ws</code></p></body></html>`, label("endpoints"))
		return p.err
	})
}

// pageWriter keeps the first write error so the page body reads top-down.
type pageWriter struct {
	w   io.Writer
	err error
}

func (p *pageWriter) printf(format string, args ...interface{}) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

func (p *pageWriter) table(title string, rows []row) {
	p.printf(`<h2>%s</h2><table>`, label(title))
	for _, r := range rows {
		p.printf(`<tr><th>%s</th><td>%v</td></tr>`, label(r.key), r.value)
	}
	p.printf(`</table>`)
}
