package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conneroisu/tessera/internal/document"
)

var convertCmd = &cobra.Command{
	Use:   "convert <file>",
	Short: "Re-encode a document file",
	Long: `Convert rewrites a document file in another encoding or compression.
Omitted options keep the file's current value. The file is replaced
through a temporary file, so an interrupted conversion leaves the
original intact.

Examples:
  tessera convert --compression zstd world/regions/region_0_0.dat
  tessera convert --format compact --out copy.dat world/world.info`,
	Args: cobra.ExactArgs(1),
	RunE: runConvert,
}

var (
	convertFormat      string
	convertCompression string
	convertOut         string
)

func init() {
	rootCmd.AddCommand(convertCmd)

	convertCmd.Flags().StringVar(&convertFormat, "format", "", "target encoding (tagged, compact)")
	convertCmd.Flags().StringVar(&convertCompression, "compression", "", "target compression (none, gzip, zstd)")
	convertCmd.Flags().StringVarP(&convertOut, "out", "O", "", "destination (default replaces the input)")
}

func runConvert(cmd *cobra.Command, args []string) error {
	src := args[0]
	doc, header, err := document.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}

	format := header.Format
	if convertFormat != "" {
		if format, err = document.ParseFormat(convertFormat); err != nil {
			return err
		}
	}
	compression := header.Compression
	if convertCompression != "" {
		if compression, err = document.ParseCompression(convertCompression); err != nil {
			return err
		}
	}

	dst := convertOut
	if dst == "" {
		dst = src
	}
	if err := document.WriteFile(dst, doc.Convert(format), compression); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s/%s -> %s/%s\n", dst,
		header.Format, header.Compression, format, compression)
	return nil
}
