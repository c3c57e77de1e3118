package main

import (
	"fmt"
	"os"
	"path"

	"github.com/setavenger/coindb/internal/config"
	"github.com/setavenger/coindb/internal/logging"
	"github.com/setavenger/coindb/internal/node"
	"github.com/spf13/cobra"
)

var (
	Version = "0.0.0"

	// Global flags
	datadir    string
	configFile string
	backend    string
)

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(
		&datadir,
		"datadir",
		config.DefaultBaseDirectory,
		"Set the base directory for coindb. Default directory is ~/.coindb",
	)
	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Path to config file (default: datadir/coindb.toml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&backend,
		"backend",
		"",
		"Coin store engine to open: leveldb, pebble or sqlite (default: db_backend of the config)",
	)
}

var rootCmd = &cobra.Command{
	Use:   "coindb",
	Short: "Coin database maintenance",
	Long: `coindb inspects and maintains the coin database of a stopped node:
tip and cache information, manual rewinds, rewind data pruning, the
transaction index and CSV exports.`,
	Version:      Version,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Set directories and initialize config
		config.BaseDirectory = datadir
		config.SetDirectories()

		logging.L.Debug().Msgf("base directory %s", config.BaseDirectory)

		// Load config
		if configFile == "" {
			configFile = path.Join(config.BaseDirectory, config.ConfigFileName)
		}
		config.LoadConfigs(configFile)

		if backend != "" {
			config.DBBackend = backend
		}
	},
}

// openNode opens the stores without a block source. The persisted
// transaction index flag is left alone.
func openNode() (*node.Node, error) {
	opts := node.OptionsFromConfig()
	opts.Source = nil
	opts.TxIndex = nil
	return node.Open(opts)
}

func main() {
	// Add subcommands
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(countCmd)
	rootCmd.AddCommand(rewindCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(txIndexCmd)
	rootCmd.AddCommand(reindexCmd)
	rootCmd.AddCommand(exportCmd)

	// Execute the root command
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
