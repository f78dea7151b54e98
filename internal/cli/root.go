// Package cli implements the concord command tree.
package cli

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ppiankov/concord/internal/model"
)

var (
	cfgFile string
	verbose bool
	tenant  string
	logMode string
)

// currentConfig holds the live configuration. Hot reload swaps the whole
// value; batches read it through a ConfigFn so threshold changes apply per
// tenant without restart.
var currentConfig atomic.Value // model.Config

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "concord",
	Short: "Concord - assertion linking & knowledge consolidation engine",
	Long: `Concord turns noisy, multiply-sourced extraction output into a
trustworthy structured knowledge base.

It links raw extracted candidates to canonical concepts, corrects the broad-
concept bias of raw matcher confidence, and consolidates every group of
units describing the same fact into a single canonical fact with an explicit
maturity: VALIDATED, CANDIDATE, CONFLICTING, or AMBIGUOUS_TYPE.

Contradictions between sources are surfaced, never silently overwritten.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("concord v0.2.1")
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.concord/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&tenant, "tenant", "", "tenant whose threshold overrides apply")
	rootCmd.PersistentFlags().StringVar(&logMode, "log-mode", "dev", "log mode (dev, prod)")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	rootCmd.AddCommand(versionCmd)
}

// initConfig reads the config file and CONCORD_* environment variables,
// then keeps watching the file so threshold changes apply without restart.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			return
		}
		viper.AddConfigPath(home + "/.concord")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("CONCORD")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
		}
		viper.OnConfigChange(func(fsnotify.Event) {
			reloadConfig()
		})
		viper.WatchConfig()
	}
	reloadConfig()
}

// reloadConfig overlays the file/env values on the defaults, validates, and
// publishes. An invalid edit keeps the previous configuration running.
func reloadConfig() {
	cfg := model.DefaultConfig()
	if err := viper.Unmarshal(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: config unmarshal failed, keeping previous: %v\n", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: invalid config, keeping previous: %v\n", err)
		return
	}
	currentConfig.Store(cfg)
}

// effectiveConfig resolves the live configuration for the selected tenant.
func effectiveConfig() model.Config {
	v := currentConfig.Load()
	if v == nil {
		return model.DefaultConfig()
	}
	cfg := v.(model.Config)
	if tenant != "" {
		return cfg.ForTenant(tenant)
	}
	return cfg
}
