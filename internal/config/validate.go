package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// ValidationResult separates fatal errors (config must not be used to start
// the proxy/client) from warnings (auto-corrected or cosmetic, startup
// continues).
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

func (r ValidationResult) HasFatals() bool { return len(r.Fatals) > 0 }

// AllErrors returns fatals followed by warnings, for callers that just want
// to print everything found.
func (r ValidationResult) AllErrors() []error {
	all := make([]error, 0, len(r.Fatals)+len(r.Warnings))
	all = append(all, r.Fatals...)
	all = append(all, r.Warnings...)
	return all
}

// ValidateTiered checks the config for invalid values. Values that would
// cause a panic or an unusable listener/dial target are fatal; everything
// else is clamped to a safe value (if numeric) and reported as a warning.
func (c *Config) ValidateTiered() ValidationResult {
	var r ValidationResult

	if c.VncHost != "" {
		if c.VncPort < 1 || c.VncPort > 65535 {
			r.Fatals = append(r.Fatals, fmt.Errorf("vnc_port %d is out of range 1-65535", c.VncPort))
		}
	}

	if c.ProxyListenAddr != "" {
		if _, _, err := net.SplitHostPort(c.ProxyListenAddr); err != nil {
			r.Fatals = append(r.Fatals, fmt.Errorf("proxy_listen_addr %q is not a valid host:port: %w", c.ProxyListenAddr, err))
		}
	}

	if c.RecordingDir == "" {
		r.Fatals = append(r.Fatals, fmt.Errorf("recording_dir must not be empty"))
	}

	if c.ContinuousUpdateIntervalMS < 20 {
		r.Warnings = append(r.Warnings, fmt.Errorf("continuous_update_interval_ms %d is below minimum 20, clamping", c.ContinuousUpdateIntervalMS))
		c.ContinuousUpdateIntervalMS = 20
	} else if c.ContinuousUpdateIntervalMS > 10000 {
		r.Warnings = append(r.Warnings, fmt.Errorf("continuous_update_interval_ms %d exceeds maximum 10000, clamping", c.ContinuousUpdateIntervalMS))
		c.ContinuousUpdateIntervalMS = 10000
	}

	if c.MultiClickMaxIntervalMS < 1 {
		r.Warnings = append(r.Warnings, fmt.Errorf("multi_click_max_interval_ms %d is below minimum 1, clamping", c.MultiClickMaxIntervalMS))
		c.MultiClickMaxIntervalMS = 1
	}

	if c.MultiClickMaxDisplacementPX < 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("multi_click_max_displacement_px %d is negative, clamping to 0", c.MultiClickMaxDisplacementPX))
		c.MultiClickMaxDisplacementPX = 0
	}

	if c.DragThresholdPX < 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("drag_threshold_px %d is negative, clamping to 0", c.DragThresholdPX))
		c.DragThresholdPX = 0
	}

	if c.MapperMinAfterDelaySeconds < 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("mapper_min_after_delay_seconds %d is negative, clamping to 0", c.MapperMinAfterDelaySeconds))
		c.MapperMinAfterDelaySeconds = 0
	}

	if c.MapperWaitAfterBufferSeconds < 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("mapper_wait_after_buffer_seconds %d is negative, clamping to 0", c.MapperWaitAfterBufferSeconds))
		c.MapperWaitAfterBufferSeconds = 0
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	if c.LogShipURL != "" {
		if !strings.HasPrefix(c.LogShipURL, "http://") && !strings.HasPrefix(c.LogShipURL, "https://") {
			r.Warnings = append(r.Warnings, fmt.Errorf("log_ship_url %q does not look like an http(s) URL", c.LogShipURL))
		}
	}

	return r
}

// VncAddr joins VncHost/VncPort into a dial target, the form
// transport.DialTCP expects.
func (c *Config) VncAddr() string {
	return net.JoinHostPort(c.VncHost, strconv.Itoa(c.VncPort))
}
