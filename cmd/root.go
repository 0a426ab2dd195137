// Package cmd provides the tessera command-line interface.
//
// Configuration is read, in order of precedence, from command-line flags,
// TESSERA_<SECTION>_<OPTION> environment variables and a configuration
// file. The file is the one named by --config, else TESSERA_CONFIG_FILE,
// else .tessera.yml in the current directory.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/tessera/internal/config"
	"github.com/conneroisu/tessera/internal/logging"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "tessera",
	Short: "Region-based world persistence and streaming",
	Long: `Tessera stores a tile world as fixed-size region files and streams
regions in and out of memory on a worker pool.

Commands:
  tessera run       Stream regions around an origin, edit, save and shut down
  tessera inspect   Dump a region or world.info file
  tessera convert   Re-encode a document file
  tessera doctor    Check configuration and scan a world directory
  tessera version   Show version information`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .tessera.yml, can also use TESSERA_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig points viper at the configuration file and enables
// TESSERA_ environment overrides. A missing file is not an error.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("TESSERA_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".tessera")
	}

	viper.SetEnvPrefix("TESSERA")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// newLogger builds the process logger from the log section. The returned
// func closes the log file, if any.
func newLogger(cfg *config.Config) (logging.Logger, func(), error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	lc := logging.DefaultConfig()
	lc.Level = level
	lc.Format = cfg.Log.Format
	lc.Component = "tessera"

	if cfg.Log.Dir == "" {
		return logging.NewLogger(lc), func() {}, nil
	}
	fl, err := logging.NewFileLogger(lc, cfg.Log.Dir)
	if err != nil {
		return nil, nil, err
	}
	return logging.NewMultiLogger(logging.NewLogger(lc), fl), func() { fl.Close() }, nil
}
