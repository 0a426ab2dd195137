package cmd

import (
	"fmt"
	"io"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/tessera/internal/document"
	"github.com/conneroisu/tessera/internal/region"
	"github.com/conneroisu/tessera/internal/regionio"
	"github.com/conneroisu/tessera/internal/tiles"
	"github.com/conneroisu/tessera/internal/world"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Dump a region or world.info file",
	Long: `Inspect decodes a document file and prints it.

The summary output understands region files and world.info; yaml and json
print the raw document tree. Arrays longer than 16 elements are cut short
unless --full is given.

Examples:
  tessera inspect world/regions/region_0_0.dat
  tessera inspect -o yaml --full world/world.info`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

var (
	inspectOutput = newOutputFlag("summary", "summary", "yaml", "json")
	inspectFull   bool
)

const arrayPreview = 16

func init() {
	rootCmd.AddCommand(inspectCmd)

	addOutputFlag(inspectCmd, inspectOutput)
	inspectCmd.Flags().BoolVar(&inspectFull, "full", false, "print arrays in full")
}

func runInspect(cmd *cobra.Command, args []string) error {
	path := args[0]
	doc, header, err := document.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	out := cmd.OutOrStdout()

	switch inspectOutput.value {
	case "yaml":
		fmt.Fprintf(out, "# %s, %s\n", header.Format, header.Compression)
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(compoundNode(doc.Root(), inspectFull))
	case "json":
		return encode(out, "json", map[string]interface{}{
			"format":      header.Format.String(),
			"compression": header.Compression.String(),
			"root":        compoundTree(doc.Root(), inspectFull),
		})
	default:
		return summarize(out, path, doc, header)
	}
}

// RegionSummary is what inspect reports about a region file.
type RegionSummary struct {
	X, Y             int32
	Version          int
	Generated        bool
	SolidTiles       int
	Entities         int
	QueuedStructures int
	QueuedActions    int
}

func summarizeRegion(doc *document.Document, k region.Key) (*RegionSummary, error) {
	root := doc.Root()
	version := region.CurrentVersion
	if v, ok := root.OptInt("version"); ok {
		version = int(v)
	}
	snap, err := region.Decode(root, version)
	if err != nil {
		return nil, err
	}
	s := &RegionSummary{
		X:                k.X,
		Y:                k.Y,
		Version:          version,
		Generated:        snap.Generated,
		QueuedStructures: len(snap.Structures),
		QueuedActions:    len(snap.Actions),
	}
	if snap.Grid != nil {
		for sy := range snap.Grid {
			for _, sl := range snap.Grid[sy] {
				if sl == nil {
					continue
				}
				for _, id := range sl.Tiles {
					if id != tiles.Air {
						s.SolidTiles++
					}
				}
				s.Entities += len(sl.Entities)
			}
		}
	}
	return s, nil
}

func summarize(w io.Writer, path string, doc *document.Document, header document.Header) error {
	fmt.Fprintf(w, "%s: %s, %s\n", filepath.Base(path), header.Format, header.Compression)

	if k, ok := regionio.ParseRegionFileName(filepath.Base(path)); ok {
		s, err := summarizeRegion(doc, k)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  %s: (%d,%d)\n", label("region"), s.X, s.Y)
		fmt.Fprintf(w, "  %s: %d\n", label("version"), s.Version)
		fmt.Fprintf(w, "  %s: %t\n", label("generated"), s.Generated)
		fmt.Fprintf(w, "  %s: %d\n", label("solid_tiles"), s.SolidTiles)
		fmt.Fprintf(w, "  %s: %d\n", label("tile_entities"), s.Entities)
		fmt.Fprintf(w, "  %s: %d\n", label("queued_structures"), s.QueuedStructures)
		fmt.Fprintf(w, "  %s: %d\n", label("queued_actions"), s.QueuedActions)
		return nil
	}

	if filepath.Base(path) == world.InfoFile {
		info, err := world.DecodeInfo(doc.Root(), header)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  %s: %s\n", label("name"), info.Name)
		fmt.Fprintf(w, "  %s: %s\n", label("id"), info.ID)
		fmt.Fprintf(w, "  %s: %d\n", label("seed"), info.Seed)
		fmt.Fprintf(w, "  %s: %d\n", label("version"), info.Version)
		fmt.Fprintf(w, "  %s: %s\n", label("created"), info.Created.Format("2006-01-02 15:04:05 MST"))
		fmt.Fprintf(w, "  %s: %s, %s\n", label("region_encoding"), info.Format, info.Compression)
		return nil
	}

	fmt.Fprintf(w, "  %d top-level fields: %v\n", doc.Root().Len(), doc.Root().Names())
	return nil
}

// compoundNode renders c as a YAML mapping with every value's kind as a
// line comment.
func compoundNode(c *document.Compound, full bool) *yaml.Node {
	n := &yaml.Node{Kind: yaml.MappingNode}
	for _, name := range c.Names() {
		v, _ := c.Get(name)
		n.Content = append(n.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: name}, valueNode(v, full))
	}
	return n
}

func valueNode(v document.Value, full bool) *yaml.Node {
	scalar := func(tag, s string) *yaml.Node {
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: s, LineComment: v.Kind().String()}
	}
	switch tv := v.(type) {
	case document.Bool:
		return scalar("!!bool", strconv.FormatBool(bool(tv)))
	case document.Byte:
		return scalar("!!int", strconv.Itoa(int(tv)))
	case document.Char:
		return scalar("!!int", strconv.Itoa(int(tv)))
	case document.Short:
		return scalar("!!int", strconv.Itoa(int(tv)))
	case document.Int:
		return scalar("!!int", strconv.Itoa(int(tv)))
	case document.Long:
		return scalar("!!int", strconv.FormatInt(int64(tv), 10))
	case document.Float:
		return scalar("!!float", strconv.FormatFloat(float64(tv), 'g', -1, 32))
	case document.Double:
		return scalar("!!float", strconv.FormatFloat(float64(tv), 'g', -1, 64))
	case document.String:
		return scalar("!!str", string(tv))
	case document.ByteArray:
		ints := make([]int64, len(tv))
		for i, b := range tv {
			ints[i] = int64(b)
		}
		return arrayNode(v.Kind(), ints, full)
	case document.IntArray:
		ints := make([]int64, len(tv))
		for i, x := range tv {
			ints[i] = int64(x)
		}
		return arrayNode(v.Kind(), ints, full)
	case *document.Compound:
		return compoundNode(tv, full)
	case *document.List:
		n := &yaml.Node{Kind: yaml.SequenceNode, LineComment: fmt.Sprintf("list of %s", tv.ElemKind())}
		for i := 0; i < tv.Len(); i++ {
			n.Content = append(n.Content, valueNode(tv.At(i), full))
		}
		return n
	default:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
	}
}

func arrayNode(kind document.Kind, values []int64, full bool) *yaml.Node {
	n := &yaml.Node{
		Kind:        yaml.SequenceNode,
		Style:       yaml.FlowStyle,
		LineComment: fmt.Sprintf("%s, %d elements", kind, len(values)),
	}
	shown := values
	if !full && len(shown) > arrayPreview {
		shown = shown[:arrayPreview]
		n.LineComment += ", truncated"
	}
	for _, x := range shown {
		n.Content = append(n.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.FormatInt(x, 10)})
	}
	return n
}

// compoundTree converts c into plain maps and slices for JSON output.
func compoundTree(c *document.Compound, full bool) map[string]interface{} {
	m := make(map[string]interface{}, c.Len())
	for _, name := range c.Names() {
		v, _ := c.Get(name)
		m[name] = valueTree(v, full)
	}
	return m
}

func valueTree(v document.Value, full bool) interface{} {
	switch tv := v.(type) {
	case document.ByteArray:
		ints := make([]int, len(tv))
		for i, b := range tv {
			ints[i] = int(b)
		}
		return truncate(ints, full)
	case document.IntArray:
		return truncate([]int32(tv), full)
	case *document.Compound:
		return compoundTree(tv, full)
	case *document.List:
		items := make([]interface{}, tv.Len())
		for i := range items {
			items[i] = valueTree(tv.At(i), full)
		}
		return items
	case document.Char:
		return uint16(tv)
	default:
		return tv
	}
}

func truncate[T any](values []T, full bool) []T {
	if !full && len(values) > arrayPreview {
		return values[:arrayPreview]
	}
	return values
}
