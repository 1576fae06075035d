package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/equipstat/internal/app"
	cfgpkg "github.com/KaramelBytes/equipstat/internal/config"
)

var (
	// Global flags
	cfgFile   string
	debug     bool
	flagStore string
	jsonOut   bool

	// Loaded configuration
	cfg     *cfgpkg.Global
	loadErr error
)

var rootCmd = &cobra.Command{
	Use:   "equipstat",
	Short: "equipstat: analyze equipment measurement tables and keep a history of results",
	Long: `equipstat validates CSV/TSV/XLSX equipment tables (flowrate, pressure, temperature, type),
computes summary statistics, stores every result and renders PDF reports. Run "equipstat serve"
for the HTTP API or use the subcommands directly.`,
	SilenceUsage: true,
}

// Execute is the entry point called by main.main()
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "✗ Error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(loadConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.equipstat/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&flagStore, "store", "", "record store driver: sqlite|postgres|memory (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "print results as JSON")
}

func loadConfig() {
	cfg, loadErr = nil, nil
	c, err := cfgpkg.Load(cfgFile)
	if err != nil {
		// Non-fatal: commands that need config report loadErr themselves
		loadErr = err
		return
	}
	cfg = c

	// Apply CLI overrides if provided
	f := rootCmd.PersistentFlags()
	if f.Changed("store") && flagStore != "" {
		cfg.Store.Driver = flagStore
	}
	if debug {
		cfg.Log.Level = "debug"
	}
}

// openApp assembles stores and service from the loaded configuration.
// The caller closes the returned App.
func openApp(cmd *cobra.Command) (*app.App, error) {
	if cfg == nil {
		if loadErr != nil {
			return nil, fmt.Errorf("load config: %w", loadErr)
		}
		return nil, fmt.Errorf("no config loaded")
	}
	return app.New(commandContext(cmd), cfg, cmd.ErrOrStderr())
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
