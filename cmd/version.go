package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/conneroisu/tessera/internal/document"
	"github.com/conneroisu/tessera/internal/region"
	"github.com/conneroisu/tessera/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long: `Display the tessera version, build metadata and the region layout
version this binary writes.

Examples:
  tessera version
  tessera version --short
  tessera version -o json`,
	RunE: runVersionCommand,
}

var (
	versionOutput = newOutputFlag("text", "text", "json", "yaml")
	versionShort  bool
)

// VersionReport is the machine-readable version output.
type VersionReport struct {
	version.BuildInfo `yaml:",inline"`
	IsRelease          bool     `json:"is_release" yaml:"is_release"`
	IsDirty            bool     `json:"is_dirty" yaml:"is_dirty"`
	RegionVersion      int      `json:"region_version" yaml:"region_version"`
	Formats            []string `json:"formats" yaml:"formats"`
	Compressions       []string `json:"compressions" yaml:"compressions"`
}

func init() {
	rootCmd.AddCommand(versionCmd)

	addOutputFlag(versionCmd, versionOutput)
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Show short version only")
}

func runVersionCommand(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	switch {
	case versionOutput.value != "text":
		return encode(out, versionOutput.value, versionReport())
	case versionShort:
		fmt.Fprintln(out, version.Short())
		return nil
	default:
		return outputVersionText(out)
	}
}

func versionReport() VersionReport {
	return VersionReport{
		BuildInfo:     version.Get(),
		IsRelease:     version.IsRelease(),
		IsDirty:       version.IsDirty(),
		RegionVersion: region.CurrentVersion,
		Formats:       []string{document.FormatTagged.String(), document.FormatCompact.String()},
		Compressions: []string{
			document.CompressionNone.String(),
			document.CompressionGzip.String(),
			document.CompressionZstd.String(),
		},
	}
}

func outputVersionText(w io.Writer) error {
	info := version.Get()

	fmt.Fprintf(w, "tessera %s", info.Version)
	if info.GitCommit != "unknown" && len(info.GitCommit) >= 7 {
		fmt.Fprintf(w, " (%s)", info.GitCommit[:7])
	}
	if version.IsDirty() {
		fmt.Fprint(w, " (dirty)")
	}
	fmt.Fprintln(w)

	if !info.BuildTime.IsZero() {
		fmt.Fprintf(w, "Built: %s\n", info.BuildTime.Format("2006-01-02 15:04:05 UTC"))
	}
	fmt.Fprintf(w, "Go: %s\n", info.GoVersion)
	fmt.Fprintf(w, "Platform: %s\n", info.Platform)
	fmt.Fprintf(w, "Region layout: v%d\n", region.CurrentVersion)
	return nil
}
