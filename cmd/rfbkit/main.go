package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/rfbkit/internal/config"
	"github.com/breeze-rmm/rfbkit/internal/logging"
)

var (
	version = "0.1.0"
	cfgFile string
	logShip string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "rfbkit",
	Short: "RFB/VNC client, recording proxy, and replay toolkit",
	Long:  `rfbkit dials, records, and replays RFB/VNC sessions, synthesizing a human-readable action trace from the raw protocol bytes.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("rfbkit v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/rfbkit/rfbkit.yaml)")
	rootCmd.PersistentFlags().StringVar(&logShip, "log-ship-url", "", "ship structured logs to this collector URL")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(connectCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig loads the config file named by --config, falling back to
// defaults (rather than exiting) since most subcommands are useful without
// any config file present at all.
func loadConfig() *config.Config {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error, falling back to defaults: %v\n", err)
		return config.Default()
	}
	return cfg
}

// initLogging sets up structured logging from config, plus an optional log
// shipper when --log-ship-url is set. Call after config is loaded.
func initLogging(cfg *config.Config) {
	var output io.Writer = os.Stdout
	if cfg.LogFile != "" {
		rw, err := logging.NewRotatingWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file %s: %v (logging to stdout)\n", cfg.LogFile, err)
		} else {
			output = logging.TeeWriter(os.Stdout, rw)
		}
	}

	logging.Init(cfg.LogFormat, cfg.LogLevel, output)
	log = logging.L("main")

	shipURL := logShip
	if shipURL == "" {
		shipURL = cfg.LogShipURL
	}
	if shipURL != "" {
		logging.InitShipper(logging.ShipperConfig{
			ServerURL:     shipURL,
			ClientVersion: version,
			MinLevel:      cfg.LogLevel,
		})
	}
}
