package relay

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// Pin drives one physical output
type Pin interface {
	Set(on bool) error
	Close() error
}

// Pin driver names accepted in PinSpec.Driver
const (
	DriverGPIO   = "gpio"
	DriverLED    = "led"
	DriverMemory = "memory"
)

// Default sysfs roots
const (
	DefaultGPIORoot = "/sys/class/gpio"
	DefaultLEDRoot  = "/sys/class/leds"
)

// PinSpec describes how to open the pin behind a relay
type PinSpec struct {
	Driver    string
	Number    int    // GPIO number for the gpio driver
	LED       string // LED class device name for the led driver
	ActiveLow bool
	Root      string // sysfs root override
}

// OpenPin opens the driver named in spec on fs
func OpenPin(fs afero.Fs, spec PinSpec) (Pin, error) {
	switch spec.Driver {
	case DriverGPIO:
		root := spec.Root
		if root == "" {
			root = DefaultGPIORoot
		}
		return OpenGPIO(fs, root, spec.Number, spec.ActiveLow)
	case DriverLED:
		root := spec.Root
		if root == "" {
			root = DefaultLEDRoot
		}
		return OpenLED(fs, root, spec.LED)
	case DriverMemory, "":
		return &MemoryPin{}, nil
	default:
		return nil, fmt.Errorf("unknown pin driver %q", spec.Driver)
	}
}

// MemoryPin is an in-process pin used for simulation and tests
type MemoryPin struct {
	mu     sync.Mutex
	on     bool
	writes int
	err    error
}

func (p *MemoryPin) Set(on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.on = on
	p.writes++
	return nil
}

func (p *MemoryPin) Close() error { return nil }

// Level returns the last driven level
func (p *MemoryPin) Level() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.on
}

// Writes returns how many times the pin was driven
func (p *MemoryPin) Writes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes
}

// Fail makes subsequent writes return err (nil clears it)
func (p *MemoryPin) Fail(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// GPIOPin drives a pin through the sysfs GPIO interface
type GPIOPin struct {
	fs        afero.Fs
	root      string
	number    int
	activeLow bool
}

// OpenGPIO exports the pin when needed and configures it as an output
func OpenGPIO(fs afero.Fs, root string, number int, activeLow bool) (*GPIOPin, error) {
	if number < 0 {
		return nil, fmt.Errorf("gpio number %d is negative", number)
	}
	p := &GPIOPin{fs: fs, root: root, number: number, activeLow: activeLow}

	dir := p.dir()
	if _, err := fs.Stat(dir); os.IsNotExist(err) {
		if err := p.write(filepath.Join(root, "export"), strconv.Itoa(number)); err != nil {
			return nil, fmt.Errorf("export gpio %d: %w", number, err)
		}
		// udev needs a moment to chown the freshly exported files
		if err := waitFor(fs, filepath.Join(dir, "direction"), time.Second); err != nil {
			return nil, fmt.Errorf("gpio %d not exported: %w", number, err)
		}
	}

	// "low" sets the direction and drives an inactive level in one write
	initial := "low"
	if activeLow {
		initial = "high"
	}
	if err := p.write(filepath.Join(dir, "direction"), initial); err != nil {
		return nil, fmt.Errorf("configure gpio %d: %w", number, err)
	}
	return p, nil
}

func (p *GPIOPin) dir() string {
	return filepath.Join(p.root, fmt.Sprintf("gpio%d", p.number))
}

func (p *GPIOPin) Set(on bool) error {
	level := on != p.activeLow
	v := "0"
	if level {
		v = "1"
	}
	return p.write(filepath.Join(p.dir(), "value"), v)
}

// Close unexports the pin
func (p *GPIOPin) Close() error {
	return p.write(filepath.Join(p.root, "unexport"), strconv.Itoa(p.number))
}

func (p *GPIOPin) write(path, value string) error {
	return afero.WriteFile(p.fs, path, []byte(value), 0644)
}

// LEDPin drives an LED class device such as the board activity LED
type LEDPin struct {
	fs  afero.Fs
	dir string
}

// OpenLED detaches the kernel trigger so the LED follows our writes only
func OpenLED(fs afero.Fs, root, name string) (*LEDPin, error) {
	if name == "" {
		return nil, fmt.Errorf("led name is required")
	}
	dir := filepath.Join(root, name)
	if _, err := fs.Stat(dir); err != nil {
		return nil, fmt.Errorf("led %s: %w", name, err)
	}
	if err := afero.WriteFile(fs, filepath.Join(dir, "trigger"), []byte("none"), 0644); err != nil {
		return nil, fmt.Errorf("led %s: clear trigger: %w", name, err)
	}
	return &LEDPin{fs: fs, dir: dir}, nil
}

func (p *LEDPin) Set(on bool) error {
	v := "0"
	if on {
		v = "1"
	}
	return afero.WriteFile(p.fs, filepath.Join(p.dir, "brightness"), []byte(v), 0644)
}

func (p *LEDPin) Close() error { return nil }

func waitFor(fs afero.Fs, path string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		_, err := fs.Stat(path)
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(20 * time.Millisecond)
	}
}
