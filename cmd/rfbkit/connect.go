package main

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/spf13/cobra"

	"github.com/breeze-rmm/rfbkit/internal/logging"
	"github.com/breeze-rmm/rfbkit/internal/rfb"
	"github.com/breeze-rmm/rfbkit/internal/transport"
	"github.com/breeze-rmm/rfbkit/internal/vncclient"
)

const (
	connectDialTimeout = 10 * time.Second
	minFreeDiskMB      = 500
)

var (
	connectWS          bool
	connectRecordDir   string
	connectScreenshot  string
	connectType        string
	connectClick       string
	connectReconnect   bool
	connectMaxAttempts int
)

var connectCmd = &cobra.Command{
	Use:   "connect <host:port>",
	Short: "Connect to a VNC server and optionally drive it from the command line",
	Long: `connect dials a VNC server directly (no recording proxy involved) and
performs whatever one-shot actions were requested, useful for smoke-testing a
server or scripting a simple interaction without a full GUI client.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runConnect(args[0])
	},
}

func init() {
	connectCmd.Flags().BoolVar(&connectWS, "ws", false, "dial as RFB-over-WebSocket instead of raw TCP")
	connectCmd.Flags().StringVar(&connectRecordDir, "record", "", "durably record this session into the given directory")
	connectCmd.Flags().StringVar(&connectScreenshot, "screenshot", "", "take a screenshot and save it as a PNG to this path")
	connectCmd.Flags().StringVar(&connectType, "type", "", "type this text into the remote session")
	connectCmd.Flags().StringVar(&connectClick, "click", "", "left-click at \"x,y\" in the remote session")
	connectCmd.Flags().BoolVar(&connectReconnect, "reconnect", false, "retry with exponential backoff if the initial dial/handshake fails")
	connectCmd.Flags().IntVar(&connectMaxAttempts, "reconnect-attempts", 0, "cap the number of reconnect attempts (0 = unlimited)")
}

func runConnect(addr string) {
	cfg := loadConfig()
	initLogging(cfg)
	defer logging.StopShipper()

	var client *vncclient.Client
	var err error
	if connectReconnect {
		dial := func(ctx context.Context) (transport.Transport, error) {
			return dialTransport(addr)
		}
		reconnCfg := vncclient.DefaultReconnectConfig()
		reconnCfg.MaxAttempts = connectMaxAttempts
		client, err = vncclient.ConnectWithReconnect(context.Background(), dial, reconnCfg)
		if err != nil {
			log.Error("reconnect exhausted", "addr", addr, "error", err)
			os.Exit(1)
		}
	} else {
		t, derr := dialTransport(addr)
		if derr != nil {
			log.Error("dial failed", "addr", addr, "error", derr)
			os.Exit(1)
		}
		client, err = vncclient.Connect(t)
		if err != nil {
			log.Error("handshake failed", "addr", addr, "error", err)
			os.Exit(1)
		}
	}
	defer client.Close()

	if connectRecordDir != "" {
		warnOnLowDiskSpace(connectRecordDir)
		if err := os.MkdirAll(connectRecordDir, 0700); err != nil {
			log.Error("failed to create recording directory", "dir", connectRecordDir, "error", err)
			os.Exit(1)
		}
		if err := client.StartRecording(connectRecordDir); err != nil {
			log.Error("failed to start recording", "error", err)
			os.Exit(1)
		}
		defer client.StopRecording()
	}

	if connectClick != "" {
		x, y, err := parseXY(connectClick)
		if err != nil {
			log.Error("bad --click value", "value", connectClick, "error", err)
			os.Exit(1)
		}
		if err := client.MouseClick(x, y, rfb.MouseButtonLeft); err != nil {
			log.Error("click failed", "error", err)
			os.Exit(1)
		}
	}

	if connectType != "" {
		if err := client.TypeText(connectType); err != nil {
			log.Error("type failed", "error", err)
			os.Exit(1)
		}
	}

	if connectScreenshot != "" {
		img, err := client.TakeScreenshot()
		if err != nil {
			log.Error("screenshot failed", "error", err)
			os.Exit(1)
		}
		if err := writePNG(connectScreenshot, img); err != nil {
			log.Error("failed to write screenshot", "path", connectScreenshot, "error", err)
			os.Exit(1)
		}
		fmt.Printf("screenshot saved to %s\n", connectScreenshot)
	}

	log.Info("session complete", "addr", addr)
}

func dialTransport(addr string) (transport.Transport, error) {
	if connectWS {
		url := addr
		if !strings.Contains(url, "://") {
			url = "ws://" + addr
		}
		return transport.DialWebSocket(url, connectDialTimeout)
	}
	return transport.DialTCP(addr, connectDialTimeout)
}

func parseXY(s string) (x, y int, err error) {
	parts := strings.SplitN(s, ",", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected \"x,y\", got %q", s)
	}
	x, err = strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, err
	}
	y, err = strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return 0, 0, err
	}
	return x, y, nil
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

// warnOnLowDiskSpace logs a warning rather than failing outright: recording
// still starts after the warning.
func warnOnLowDiskSpace(dir string) {
	path := dir
	if _, err := os.Stat(path); os.IsNotExist(err) {
		path = filepath.Dir(path)
	}
	usage, err := disk.Usage(path)
	if err != nil {
		log.Warn("could not determine free disk space", "path", path, "error", err)
		return
	}
	freeMB := usage.Free / (1024 * 1024)
	if freeMB < minFreeDiskMB {
		log.Warn("low disk space before starting recording", "path", path, "freeMB", freeMB, "usedPercent", usage.UsedPercent)
	}
}
