package cmd

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/conneroisu/tessera/internal/config"
	"github.com/conneroisu/tessera/internal/document"
	"github.com/conneroisu/tessera/internal/region"
	"github.com/conneroisu/tessera/internal/regionio"
	"github.com/conneroisu/tessera/internal/world"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration and scan a world directory",
	Long: `Doctor validates the configuration and scans the world directory.

It checks:
- Configuration values and their environment
- The tile registry
- world.info
- Every region file, reporting unreadable or undecodable ones
- Quarantined (.corrupt) files and stale temporary (_tmp) files
- Monitor address availability

Examples:
  tessera doctor --world ./demo
  tessera doctor --fix           # remove stale temporary files
  tessera doctor -o yaml`,
	RunE: runDoctor,
}

var (
	doctorVerbose bool
	doctorFix     bool
	doctorOutput  = newOutputFlag("table", "table", "json", "yaml")
)

// Diagnostic statuses.
const (
	statusOK      = "ok"
	statusWarning = "warning"
	statusError   = "error"
	statusInfo    = "info"
)

// DiagnosticResult represents the result of a diagnostic check
type DiagnosticResult struct {
	Name       string                 `json:"name" yaml:"name"`
	Category   string                 `json:"category" yaml:"category"`
	Status     string                 `json:"status" yaml:"status"`
	Message    string                 `json:"message" yaml:"message"`
	Suggestion string                 `json:"suggestion,omitempty" yaml:"suggestion,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty" yaml:"details,omitempty"`
	Fixed      bool                   `json:"fixed,omitempty" yaml:"fixed,omitempty"`
}

// DoctorReport represents the complete diagnostic report
type DoctorReport struct {
	Timestamp   time.Time          `json:"timestamp" yaml:"timestamp"`
	World       string             `json:"world" yaml:"world"`
	Environment map[string]string  `json:"environment" yaml:"environment"`
	Results     []DiagnosticResult `json:"results" yaml:"results"`
	Summary     ReportSummary      `json:"summary" yaml:"summary"`
}

// ReportSummary provides an overview of diagnostic results
type ReportSummary struct {
	Total    int `json:"total" yaml:"total"`
	OK       int `json:"ok" yaml:"ok"`
	Warnings int `json:"warnings" yaml:"warnings"`
	Errors   int `json:"errors" yaml:"errors"`
	Info     int `json:"info" yaml:"info"`
}

func init() {
	rootCmd.AddCommand(doctorCmd)

	addWorldFlags(doctorCmd)
	addOutputFlag(doctorCmd, doctorOutput)
	doctorCmd.Flags().BoolVarP(&doctorVerbose, "verbose", "v", false, "show details and info results")
	doctorCmd.Flags().BoolVar(&doctorFix, "fix", false, "remove stale temporary files")
}

func runDoctor(cmd *cobra.Command, args []string) error {
	if err := bindFlags(cmd.Flags(), worldFlagKeys); err != nil {
		return err
	}
	cfg, err := config.Read()
	if err != nil {
		return err
	}

	report := diagnose(cfg, doctorFix)
	out := cmd.OutOrStdout()

	if doctorOutput.value != "table" {
		return outputReport(out, report, doctorOutput.value)
	}

	fmt.Fprintf(out, "Tessera doctor: %s\n\n", report.World)
	for _, result := range report.Results {
		if !doctorVerbose && result.Status == statusInfo {
			continue
		}
		displayResult(out, result)
	}
	displaySummary(out, report.Summary)

	if report.Summary.Errors > 0 {
		return fmt.Errorf("%d check(s) failed", report.Summary.Errors)
	}
	return nil
}

// diagnose runs every check against cfg.
func diagnose(cfg *config.Config, fix bool) *DoctorReport {
	report := &DoctorReport{
		Timestamp: time.Now(),
		World:     cfg.World.Dir,
		Environment: map[string]string{
			"go_version": runtime.Version(),
			"platform":   runtime.GOOS + "/" + runtime.GOARCH,
		},
	}

	report.Results = append(report.Results, checkConfiguration(cfg)...)
	report.Results = append(report.Results,
		checkRegistry(cfg),
		checkWorldInfo(cfg),
	)
	report.Results = append(report.Results, scanRegions(cfg.World.Dir, fix)...)
	if cfg.Monitor.Enabled {
		report.Results = append(report.Results, checkMonitorAddr(cfg.Monitor.Addr))
	}

	report.Summary = calculateSummary(report.Results)
	return report
}

func checkConfiguration(cfg *config.Config) []DiagnosticResult {
	validation := config.ValidateConfigWithDetails(cfg)
	if !validation.HasErrors() && !validation.HasWarnings() {
		return []DiagnosticResult{{
			Name:     "Configuration",
			Category: "config",
			Status:   statusOK,
			Message:  "configuration is valid",
		}}
	}

	var results []DiagnosticResult
	add := func(status string, ve config.ValidationError) {
		results = append(results, DiagnosticResult{
			Name:       ve.Field,
			Category:   "config",
			Status:     status,
			Message:    ve.Message,
			Suggestion: strings.Join(ve.Suggestions, "; "),
		})
	}
	for _, ve := range validation.Errors {
		add(statusError, ve)
	}
	for _, ve := range validation.Warnings {
		add(statusWarning, ve)
	}
	return results
}

func checkRegistry(cfg *config.Config) DiagnosticResult {
	result := DiagnosticResult{Name: "Tile registry", Category: "registry"}
	reg, err := loadRegistry(cfg.Registry.Path)
	if err != nil {
		result.Status = statusError
		result.Message = err.Error()
		return result
	}
	result.Status = statusOK
	result.Message = fmt.Sprintf("%d tiles, %d structures", len(reg.Tiles()), len(reg.Structures()))
	return result
}

func checkWorldInfo(cfg *config.Config) DiagnosticResult {
	result := DiagnosticResult{Name: "World info", Category: "world"}
	info, err := world.LoadInfo(filepath.Join(cfg.World.Dir, world.InfoFile))
	switch {
	case errors.Is(err, world.ErrNoWorld):
		result.Status = statusInfo
		result.Message = "no world.info, a new world will be created"
	case err != nil:
		result.Status = statusError
		result.Message = err.Error()
		result.Suggestion = "Restore world.info from a backup; region files cannot be read without it"
	default:
		result.Status = statusOK
		result.Message = fmt.Sprintf("%s (seed %d, version %d)", info.Name, info.Seed, info.Version)
		result.Details = map[string]interface{}{
			"id":          info.ID.String(),
			"format":      info.Format.String(),
			"compression": info.Compression.String(),
			"created":     info.Created.Format(time.RFC3339),
		}
	}
	return result
}

// scanRegions decodes every region file and reports unreadable,
// quarantined and temporary files. With fix, stale temporary files are
// removed.
func scanRegions(dir string, fix bool) []DiagnosticResult {
	regionDir := filepath.Join(dir, regionio.RegionDir)
	entries, err := os.ReadDir(regionDir)
	if errors.Is(err, os.ErrNotExist) {
		return []DiagnosticResult{{
			Name:     "Regions",
			Category: "regions",
			Status:   statusInfo,
			Message:  "no region directory",
		}}
	}
	if err != nil {
		return []DiagnosticResult{{
			Name:     "Regions",
			Category: "regions",
			Status:   statusError,
			Message:  err.Error(),
		}}
	}

	var (
		good       int
		bad        []string
		quarantine []string
		stale      []string
	)
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, document.TmpSuffix):
			stale = append(stale, name)
		case strings.Contains(name, regionio.CorruptSuffix):
			quarantine = append(quarantine, name)
		default:
			k, ok := regionio.ParseRegionFileName(name)
			if !ok {
				continue
			}
			if err := checkRegionFile(filepath.Join(regionDir, name), k); err != nil {
				bad = append(bad, fmt.Sprintf("%s: %v", name, err))
				continue
			}
			good++
		}
	}
	sort.Strings(bad)

	results := []DiagnosticResult{}
	readable := DiagnosticResult{
		Name:     "Region files",
		Category: "regions",
		Status:   statusOK,
		Message:  fmt.Sprintf("%d readable", good),
	}
	if len(bad) > 0 {
		readable.Status = statusError
		readable.Message = fmt.Sprintf("%d readable, %d unreadable", good, len(bad))
		readable.Suggestion = "Unreadable regions are quarantined and regenerated on next load"
		readable.Details = map[string]interface{}{"unreadable": bad}
	}
	results = append(results, readable)

	if len(quarantine) > 0 {
		sort.Strings(quarantine)
		results = append(results, DiagnosticResult{
			Name:       "Quarantined files",
			Category:   "regions",
			Status:     statusWarning,
			Message:    fmt.Sprintf("%d quarantined region file(s)", len(quarantine)),
			Suggestion: "Inspect and delete them once their regions are known to be good",
			Details:    map[string]interface{}{"files": quarantine},
		})
	}

	if len(stale) > 0 {
		sort.Strings(stale)
		r := DiagnosticResult{
			Name:       "Temporary files",
			Category:   "regions",
			Status:     statusWarning,
			Message:    fmt.Sprintf("%d stale temporary file(s) from interrupted saves", len(stale)),
			Suggestion: "Run with --fix to remove them",
			Details:    map[string]interface{}{"files": stale},
		}
		if fix {
			removed := 0
			for _, name := range stale {
				if err := os.Remove(filepath.Join(regionDir, name)); err == nil {
					removed++
				}
			}
			r.Fixed = removed == len(stale)
			r.Message = fmt.Sprintf("removed %d of %d stale temporary file(s)", removed, len(stale))
			r.Suggestion = ""
			if r.Fixed {
				r.Status = statusOK
			}
		}
		results = append(results, r)
	}
	return results
}

func checkRegionFile(path string, k region.Key) error {
	doc, _, err := document.ReadFile(path)
	if err != nil {
		return err
	}
	_, err = summarizeRegion(doc, k)
	return err
}

func checkMonitorAddr(addr string) DiagnosticResult {
	result := DiagnosticResult{Name: "Monitor address", Category: "monitor"}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		result.Status = statusWarning
		result.Message = fmt.Sprintf("%s is not available: %v", addr, err)
		result.Suggestion = "Choose another monitor.addr or stop the process holding it"
		return result
	}
	ln.Close()
	result.Status = statusOK
	result.Message = addr + " is available"
	return result
}

func displayResult(w io.Writer, result DiagnosticResult) {
	var icon string
	switch result.Status {
	case statusOK:
		icon = "✅"
	case statusWarning:
		icon = "⚠️"
	case statusError:
		icon = "❌"
	case statusInfo:
		icon = "ℹ️"
	default:
		icon = "•"
	}

	fmt.Fprintf(w, "%s [%s] %s: %s\n", icon, strings.ToUpper(result.Category), result.Name, result.Message)
	if result.Suggestion != "" {
		fmt.Fprintf(w, "   💡 %s\n", result.Suggestion)
	}
	if doctorVerbose && len(result.Details) > 0 {
		keys := make([]string, 0, len(result.Details))
		for k := range result.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "   %s: %v\n", label(k), result.Details[k])
		}
	}
}

func calculateSummary(results []DiagnosticResult) ReportSummary {
	summary := ReportSummary{Total: len(results)}
	for _, result := range results {
		switch result.Status {
		case statusOK:
			summary.OK++
		case statusWarning:
			summary.Warnings++
		case statusError:
			summary.Errors++
		case statusInfo:
			summary.Info++
		}
	}
	return summary
}

func displaySummary(w io.Writer, summary ReportSummary) {
	fmt.Fprintf(w, "\n%s: %d  %s: %d  %s: %d  %s: %d  %s: %d\n",
		label("total"), summary.Total,
		label("ok"), summary.OK,
		label("warnings"), summary.Warnings,
		label("errors"), summary.Errors,
		label("info"), summary.Info)
}

func outputReport(w io.Writer, report *DoctorReport, format string) error {
	switch format {
	case "yaml":
		data, err := yaml.Marshal(report)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	default:
		return encode(w, format, report)
	}
}
