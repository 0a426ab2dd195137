package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// worldFlagKeys maps world flags onto configuration keys. Binding happens
// when a command runs, so several commands can own a flag of the same name.
var worldFlagKeys = map[string]string{
	"world":       "world.dir",
	"seed":        "world.seed",
	"format":      "world.format",
	"compression": "world.compression",
}

func addWorldFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("world", "w", "", "world directory (default ./world)")
	cmd.Flags().Int64("seed", 0, "seed of a new world")
	cmd.Flags().String("format", "", "encoding of new files (tagged, compact)")
	cmd.Flags().String("compression", "", "compression of new files (none, gzip, zstd)")
}

// bindFlags points configuration keys at the flags of the running command.
func bindFlags(fs *pflag.FlagSet, keys map[string]string) error {
	for name, key := range keys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := viper.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind --%s: %w", name, err)
		}
	}
	return nil
}

// outputFlag is the --output value shared by reporting commands.
type outputFlag struct {
	value   string
	allowed []string
}

func newOutputFlag(def string, allowed ...string) *outputFlag {
	return &outputFlag{value: def, allowed: allowed}
}

func (o *outputFlag) String() string { return o.value }

func (o *outputFlag) Set(s string) error {
	for _, a := range o.allowed {
		if s == a {
			o.value = s
			return nil
		}
	}
	return fmt.Errorf("must be one of %s", strings.Join(o.allowed, ", "))
}

func (o *outputFlag) Type() string { return "format" }

func addOutputFlag(cmd *cobra.Command, o *outputFlag) {
	cmd.Flags().VarP(o, "output", "o", "output format ("+strings.Join(o.allowed, "|")+")")
}

// encode writes v as JSON or YAML.
func encode(w io.Writer, format string, v interface{}) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

// Point is a coordinate given on the command line as "x,y".
type Point struct {
	X, Y int64
}

func parsePoint(s string) (Point, error) {
	xs, ys, ok := strings.Cut(s, ",")
	if !ok {
		return Point{}, fmt.Errorf("point %q must be x,y", s)
	}
	x, err := strconv.ParseInt(strings.TrimSpace(xs), 10, 32)
	if err != nil {
		return Point{}, fmt.Errorf("point %q: %w", s, err)
	}
	y, err := strconv.ParseInt(strings.TrimSpace(ys), 10, 32)
	if err != nil {
		return Point{}, fmt.Errorf("point %q: %w", s, err)
	}
	return Point{X: x, Y: y}, nil
}

// pointFlag is a pflag.Value holding one coordinate.
type pointFlag struct {
	Point
}

func (p *pointFlag) String() string { return fmt.Sprintf("%d,%d", p.X, p.Y) }

func (p *pointFlag) Set(s string) error {
	pt, err := parsePoint(s)
	if err != nil {
		return err
	}
	p.Point = pt
	return nil
}

func (p *pointFlag) Type() string { return "x,y" }

// Edit is a tile write in world tile coordinates: "x,y=tile".
type Edit struct {
	At   Point
	Tile string
}

func parseEdit(s string) (Edit, error) {
	at, tile, ok := strings.Cut(s, "=")
	if !ok || strings.TrimSpace(tile) == "" {
		return Edit{}, fmt.Errorf("edit %q must be x,y=tile", s)
	}
	pt, err := parsePoint(at)
	if err != nil {
		return Edit{}, err
	}
	return Edit{At: pt, Tile: strings.TrimSpace(tile)}, nil
}

// editsFlag collects repeated --set values.
type editsFlag []Edit

func (e *editsFlag) String() string {
	parts := make([]string, len(*e))
	for i, ed := range *e {
		parts[i] = fmt.Sprintf("%d,%d=%s", ed.At.X, ed.At.Y, ed.Tile)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func (e *editsFlag) Set(s string) error {
	ed, err := parseEdit(s)
	if err != nil {
		return err
	}
	*e = append(*e, ed)
	return nil
}

func (e *editsFlag) Type() string { return "x,y=tile" }

var (
	_ pflag.Value = (*outputFlag)(nil)
	_ pflag.Value = (*pointFlag)(nil)
	_ pflag.Value = (*editsFlag)(nil)
)
