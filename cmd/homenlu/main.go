// homenlu interprets Chinese smart-home commands into structured five-slot
// records and serves them over HTTP, WebSocket, gRPC and MQTT.
//
// Usage:
//
//	homenlu [serve] [--config /path/to/homenlu.yaml]
//	homenlu interpret "打开客厅的灯"
//	homenlu kb index --file configs/knowledge_base.jsonl
//	homenlu version
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	_ "github.com/nadzzz/homenlu/docs"
	"github.com/nadzzz/homenlu/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "homenlu",
	Short: "Chinese smart-home command interpreter",
	Long: `homenlu turns utterances such as "把卧室空调调低两度" into
{ACTION, DEVICE_TYPE, DEVICE_ID, LOCATION, PARAMETER} records.
Without a subcommand it runs the daemon.`,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file (e.g. configs/homenlu.yaml)")
}

// loadConfig reads the configuration and installs the global logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	config.SetupLogging(cfg.Logging)
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("homenlu failed", "error", err)
		os.Exit(1)
	}
}
