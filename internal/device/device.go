// Package device drives an Android device over adb: dump the
// accessibility hierarchy, grab the framebuffer, tap a coordinate.
// Calls are single shot; retry budgets belong to the caller, which
// knows what a failure means for the crawl.
package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ruiyi-1/KPP-Test/internal/config"
)

// Bridge is the surface the crawl engine depends on. The adb controller
// implements it for real hardware; tests script it.
type Bridge interface {
	// DumpHierarchy returns the current UI tree as uiautomator XML.
	DumpHierarchy(ctx context.Context) ([]byte, error)
	// CaptureFrame returns the current screen as PNG bytes.
	CaptureFrame(ctx context.Context) ([]byte, error)
	// Tap issues a tap at absolute screen coordinates.
	Tap(ctx context.Context, x, y int) error
}

const (
	deviceDumpPath = "/sdcard/ui_dump.xml"
)

// ADB shells out to the adb binary. One controller drives one device;
// with several devices attached the serial must be set.
type ADB struct {
	path    string
	serial  string
	timeout time.Duration
	logger  zerolog.Logger
}

func NewADB(cfg config.Profile, logger zerolog.Logger) *ADB {
	path := cfg.Device.ADBPath
	if path == "" {
		path = "adb"
	}
	return &ADB{
		path:    path,
		serial:  cfg.Device.Serial,
		timeout: cfg.Timing.BridgeCall,
		logger:  logger,
	}
}

func (a *ADB) args(parts ...string) []string {
	args := make([]string, 0, len(parts)+2)
	if a.serial != "" {
		args = append(args, "-s", a.serial)
	}
	return append(args, parts...)
}

func (a *ADB) run(ctx context.Context, parts ...string) ([]byte, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, a.path, a.args(parts...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}

// Check verifies that adb is reachable and a device is attached. With a
// serial configured that exact device must be present.
func (a *ADB) Check(ctx context.Context) error {
	out, err := a.run(ctx, "devices")
	if err != nil {
		return fmt.Errorf("adb devices: %w", err)
	}
	serials := parseDevices(out)
	if len(serials) == 0 {
		return errors.New("no device attached")
	}
	if a.serial != "" {
		for _, s := range serials {
			if s == a.serial {
				return nil
			}
		}
		return fmt.Errorf("device %s not attached (have %s)", a.serial, strings.Join(serials, ", "))
	}
	if len(serials) > 1 {
		a.logger.Warn().Strs("devices", serials).Msg("several devices attached, set a serial to pin one")
	}
	return nil
}

// DumpHierarchy dumps the tree to a device-side file and streams it back.
// uiautomator insists on writing to a file, hence the two steps.
func (a *ADB) DumpHierarchy(ctx context.Context) ([]byte, error) {
	if _, err := a.run(ctx, "shell", "uiautomator", "dump", deviceDumpPath); err != nil {
		return nil, fmt.Errorf("uiautomator dump: %w", err)
	}
	data, err := a.run(ctx, "exec-out", "cat", deviceDumpPath)
	if err != nil {
		return nil, fmt.Errorf("read hierarchy: %w", err)
	}
	return data, nil
}

// CaptureFrame returns the screen as PNG bytes. exec-out keeps the
// stream binary safe, so no device-side temp file is needed.
func (a *ADB) CaptureFrame(ctx context.Context) ([]byte, error) {
	data, err := a.run(ctx, "exec-out", "screencap", "-p")
	if err != nil {
		return nil, fmt.Errorf("screencap: %w", err)
	}
	return data, nil
}

func (a *ADB) Tap(ctx context.Context, x, y int) error {
	if _, err := a.run(ctx, "shell", "input", "tap", strconv.Itoa(x), strconv.Itoa(y)); err != nil {
		return fmt.Errorf("input tap %d,%d: %w", x, y, err)
	}
	a.logger.Debug().Int("x", x).Int("y", y).Msg("tap")
	return nil
}

// parseDevices extracts serials in "device" state from adb devices output.
func parseDevices(out []byte) []string {
	var serials []string
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[1] == "device" {
			serials = append(serials, fields[0])
		}
	}
	return serials
}
