// Package config loads rfbkit's runtime configuration: the VNC backend to
// dial, the proxy's listen address, recording output location, and the
// tunable thresholds the action synthesizer uses.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"

	"github.com/breeze-rmm/rfbkit/internal/logging"
)

var log = logging.L("config")

type Config struct {
	// VNC backend this toolkit connects to, either directly (cmd/rfbkit
	// connect) or via the recording proxy (cmd/rfbkit serve).
	VncHost string `mapstructure:"vnc_host"`
	VncPort int    `mapstructure:"vnc_port"`

	// ProxyListenAddr is the address the recording proxy's WebSocket
	// frontend listens on.
	ProxyListenAddr string `mapstructure:"proxy_listen_addr"`

	// RecordingDir is the directory new recordings are written under, one
	// subdirectory per session (named by its session id).
	RecordingDir string `mapstructure:"recording_dir"`

	// ContinuousUpdateIntervalMS is validated and saved with the rest of the
	// config. The client's background incremental FramebufferUpdateRequest
	// loop does not read it; that loop runs on vncclient's fixed 200ms interval.
	ContinuousUpdateIntervalMS int `mapstructure:"continuous_update_interval_ms"`

	// Action synthesizer tuning, overriding process_rfb.py's fixed
	// constants for callers that need a different feel (e.g. a
	// higher-latency network path).
	MultiClickMaxIntervalMS     int `mapstructure:"multi_click_max_interval_ms"`
	MultiClickMaxDisplacementPX int `mapstructure:"multi_click_max_displacement_px"`
	DragThresholdPX             int `mapstructure:"drag_threshold_px"`

	// Screenshot mapper tuning.
	MapperMinAfterDelaySeconds   int `mapstructure:"mapper_min_after_delay_seconds"`
	MapperWaitAfterBufferSeconds int `mapstructure:"mapper_wait_after_buffer_seconds"`

	// Logging configuration
	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`
	LogShipURL    string `mapstructure:"log_ship_url"`
}

func Default() *Config {
	return &Config{
		VncPort:                      5900,
		ProxyListenAddr:              "127.0.0.1:5901",
		RecordingDir:                 "recordings",
		ContinuousUpdateIntervalMS:   200,
		MultiClickMaxIntervalMS:      50,
		MultiClickMaxDisplacementPX:  4,
		DragThresholdPX:              2,
		MapperMinAfterDelaySeconds:   1,
		MapperWaitAfterBufferSeconds: 1,
		LogLevel:                     "info",
		LogFormat:                    "text",
		LogMaxSizeMB:                 50,
		LogMaxBackups:                3,
	}
}

func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("rfbkit")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(configDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("RFBKIT")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	result := cfg.ValidateTiered()
	for _, err := range result.Warnings {
		log.Warn("config validation", "error", err)
	}
	if result.HasFatals() {
		for _, err := range result.Fatals {
			log.Error("config validation fatal", "error", err)
		}
		return nil, fmt.Errorf("config has fatal validation errors: %v", result.Fatals[0])
	}

	return cfg, nil
}

func Save(cfg *Config) error {
	return SaveTo(cfg, "")
}

func SaveTo(cfg *Config, cfgFile string) error {
	viper.Set("vnc_host", cfg.VncHost)
	viper.Set("vnc_port", cfg.VncPort)
	viper.Set("proxy_listen_addr", cfg.ProxyListenAddr)
	viper.Set("recording_dir", cfg.RecordingDir)
	viper.Set("continuous_update_interval_ms", cfg.ContinuousUpdateIntervalMS)
	viper.Set("multi_click_max_interval_ms", cfg.MultiClickMaxIntervalMS)
	viper.Set("multi_click_max_displacement_px", cfg.MultiClickMaxDisplacementPX)
	viper.Set("drag_threshold_px", cfg.DragThresholdPX)
	viper.Set("mapper_min_after_delay_seconds", cfg.MapperMinAfterDelaySeconds)
	viper.Set("mapper_wait_after_buffer_seconds", cfg.MapperWaitAfterBufferSeconds)
	viper.Set("log_level", cfg.LogLevel)
	viper.Set("log_format", cfg.LogFormat)

	var cfgPath string
	if cfgFile != "" {
		cfgPath = cfgFile
		dir := filepath.Dir(cfgPath)
		if dir != "." {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return err
			}
		}
	} else {
		cfgPath = filepath.Join(configDir(), "rfbkit.yaml")
		if err := os.MkdirAll(configDir(), 0700); err != nil {
			return err
		}
	}

	if err := viper.WriteConfigAs(cfgPath); err != nil {
		return err
	}

	return os.Chmod(cfgPath, 0600)
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "rfbkit")
	case "darwin":
		return "/Library/Application Support/rfbkit"
	default:
		return "/etc/rfbkit"
	}
}
