package actuator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	logx "pifan/pkg/logx"
)

const defaultSysfsRoot = "/sys/class/gpio"

type GPIOConfig struct {
	// Pin is the kernel GPIO number.
	Pin       int
	ActiveLow bool
	// SysfsRoot overrides /sys/class/gpio.
	SysfsRoot string
	// Unexport releases the pin on Close.
	Unexport bool
}

// GPIO drives a digital output pin through the sysfs GPIO interface. The pin
// is provisioned as an output driven low.
type GPIO struct {
	cfg  GPIOConfig
	dir  string
	log  logx.Logger
	mu   sync.Mutex
	done bool
}

// exportWait bounds how long udev may take to create the pin files.
const exportWait = 2 * time.Second

func OpenGPIO(ctx context.Context, cfg GPIOConfig, log logx.Logger) (*GPIO, error) {
	if cfg.Pin < 0 {
		return nil, fmt.Errorf("gpio: invalid pin %d", cfg.Pin)
	}
	root := strings.TrimSpace(cfg.SysfsRoot)
	if root == "" {
		root = defaultSysfsRoot
	}
	g := &GPIO{
		cfg: cfg,
		dir: filepath.Join(root, "gpio"+strconv.Itoa(cfg.Pin)),
		log: log.With(logx.Int("pin", cfg.Pin)),
	}

	if _, err := os.Stat(g.dir); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(filepath.Join(root, "export"), []byte(strconv.Itoa(cfg.Pin)), 0o200); err != nil {
			return nil, fmt.Errorf("gpio: export pin %d: %w", cfg.Pin, err)
		}
	}
	if err := g.waitWritable(ctx, "direction"); err != nil {
		return nil, err
	}
	if err := g.write("active_low", boolValue(cfg.ActiveLow)); err != nil {
		return nil, err
	}
	// "low" configures the pin as an output and drives it low in one step.
	if err := g.write("direction", "low"); err != nil {
		return nil, err
	}
	g.log.Info("gpio output provisioned", logx.Bool("active_low", cfg.ActiveLow))
	return g, nil
}

func (g *GPIO) waitWritable(ctx context.Context, name string) error {
	path := filepath.Join(g.dir, name)
	deadline := time.Now().Add(exportWait)
	for {
		f, err := os.OpenFile(path, os.O_WRONLY, 0)
		if err == nil {
			return f.Close()
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("gpio: %s not writable: %w", path, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (g *GPIO) write(name, value string) error {
	path := filepath.Join(g.dir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return fmt.Errorf("gpio: open %s: %w", path, err)
	}
	_, werr := f.WriteString(value)
	cerr := f.Close()
	if werr != nil {
		return fmt.Errorf("gpio: write %s: %w", path, werr)
	}
	return cerr
}

func (g *GPIO) set(v bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.done {
		return ErrClosed
	}
	return g.write("value", boolValue(v))
}

func (g *GPIO) Activate(ctx context.Context) error   { return g.set(true) }
func (g *GPIO) Deactivate(ctx context.Context) error { return g.set(false) }

// Value reads the logical pin value back.
func (g *GPIO) Value() (bool, error) {
	b, err := os.ReadFile(filepath.Join(g.dir, "value"))
	if err != nil {
		return false, fmt.Errorf("gpio: read value: %w", err)
	}
	return strings.TrimSpace(string(b)) == "1", nil
}

// Close drives the pin low and optionally unexports it.
func (g *GPIO) Close(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.done {
		return nil
	}
	g.done = true
	err := g.write("value", "0")
	if g.cfg.Unexport {
		root := filepath.Dir(g.dir)
		if uerr := os.WriteFile(filepath.Join(root, "unexport"), []byte(strconv.Itoa(g.cfg.Pin)), 0o200); uerr != nil {
			err = errors.Join(err, fmt.Errorf("gpio: unexport: %w", uerr))
		}
	}
	return err
}

func boolValue(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
