package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/banshee-data/touchring/internal/geometry"
	"github.com/banshee-data/touchring/internal/protocol"
	"github.com/banshee-data/touchring/internal/serialmux"
)

// Defaults for every optional field.
const (
	DefaultDivisions          = 8
	DefaultPointerRadius      = 1
	DefaultRadiusCompensation = 0
	DefaultMode               = "absolute"
	DefaultRelativeStart      = 1
	DefaultRelativeThreshold  = 1
	DefaultLeftPort           = "/dev/ttyUSB0"
	DefaultRightPort          = "/dev/ttyUSB1"
	DefaultAggregateInterval  = time.Millisecond
	DefaultLinkInterval       = 16 * time.Millisecond
)

// RingConfig is the physical range of one logical ring in absolute mode.
// Ring sets both ends; otherwise Start and End default independently to the
// ring's default.
type RingConfig struct {
	Ring  *int `json:"ring,omitempty"`
	Start *int `json:"start,omitempty"`
	End   *int `json:"end,omitempty"`
}

// TouchConfig describes the ring grid and the mode interpreting it.
type TouchConfig struct {
	Divisions          *int         `json:"divisions,omitempty"`
	PointerRadius      *int         `json:"pointer_radius,omitempty"`
	RadiusCompensation *int         `json:"radius_compensation,omitempty"`
	Mode               *string      `json:"mode,omitempty"` // "absolute" or "relative"
	Rings              []RingConfig `json:"rings,omitempty"`
	RelativeStart      *int         `json:"relative_start,omitempty"`
	RelativeThreshold  *int         `json:"relative_threshold,omitempty"`
}

// SerialConfig describes the two hardware channels.
type SerialConfig struct {
	LeftPort    *string `json:"left_port,omitempty"`
	RightPort   *string `json:"right_port,omitempty"`
	BaudRate    *int    `json:"baud_rate,omitempty"`
	DataBits    *int    `json:"data_bits,omitempty"`
	StopBits    *int    `json:"stop_bits,omitempty"`
	Parity      *string `json:"parity,omitempty"`
	ReadTimeout *string `json:"read_timeout,omitempty"` // duration string like "1ms"
}

// Config is the root of the bridge configuration file. Every field is
// optional; Get* methods supply defaults.
type Config struct {
	Touch             *TouchConfig  `json:"touch,omitempty"`
	Serial            *SerialConfig `json:"serial,omitempty"`
	AggregateInterval *string       `json:"aggregate_interval,omitempty"`
	LinkInterval      *string       `json:"link_interval,omitempty"`
	FrameLayout       *string       `json:"frame_layout,omitempty"`
	CaptureFrames     *bool         `json:"capture_frames,omitempty"`
}

// Default returns an empty configuration, which resolves entirely to
// defaults.
func Default() *Config {
	return &Config{}
}

// LoadConfig loads a Config from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every field that can be wrong. Topology errors wrap
// geometry.ErrInvalidTopology.
func (c *Config) Validate() error {
	durations := []struct {
		name  string
		value *string
	}{
		{"aggregate_interval", c.AggregateInterval},
		{"link_interval", c.LinkInterval},
		{"serial.read_timeout", c.serial().ReadTimeout},
	}
	for _, d := range durations {
		if d.value == nil || *d.value == "" {
			continue
		}
		v, err := time.ParseDuration(*d.value)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.value, err)
		}
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, *d.value)
		}
	}

	if _, err := c.GetFrameLayout(); err != nil {
		return err
	}
	if _, err := c.PortOptions().Normalize(); err != nil {
		return fmt.Errorf("invalid serial options: %w", err)
	}
	if _, err := c.Topology(); err != nil {
		return err
	}
	return nil
}

func (c *Config) touch() *TouchConfig {
	if c.Touch == nil {
		return &TouchConfig{}
	}
	return c.Touch
}

func (c *Config) serial() *SerialConfig {
	if c.Serial == nil {
		return &SerialConfig{}
	}
	return c.Serial
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func stringOr(p *string, def string) string {
	if p == nil || *p == "" {
		return def
	}
	return *p
}

func durationOr(p *string, def time.Duration) time.Duration {
	if p == nil || *p == "" {
		return def
	}
	d, err := time.ParseDuration(*p)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// GetDivisions returns the number of physical rings.
func (c *Config) GetDivisions() int {
	return intOr(c.touch().Divisions, DefaultDivisions)
}

// GetPointerRadius returns the default contact radius in sections.
func (c *Config) GetPointerRadius() int {
	return intOr(c.touch().PointerRadius, DefaultPointerRadius)
}

// GetRadiusCompensation returns the playfield radius adjustment.
func (c *Config) GetRadiusCompensation() int {
	return intOr(c.touch().RadiusCompensation, DefaultRadiusCompensation)
}

// GetMode returns the lower-cased mode name.
func (c *Config) GetMode() string {
	return strings.ToLower(stringOr(c.touch().Mode, DefaultMode))
}

// GetRingRanges resolves the absolute-mode ranges against the defaults for
// the configured divisions.
func (c *Config) GetRingRanges() ([geometry.LogicalRings]geometry.RingRange, error) {
	ranges := geometry.DefaultRingRanges(c.GetDivisions())
	rings := c.touch().Rings
	if len(rings) > geometry.LogicalRings {
		return ranges, fmt.Errorf("%w: %d rings configured, at most %d", geometry.ErrInvalidTopology, len(rings), geometry.LogicalRings)
	}
	for i, r := range rings {
		if r.Ring != nil {
			ranges[i] = geometry.RingRange{Low: *r.Ring, High: *r.Ring}
			continue
		}
		ranges[i].Low = intOr(r.Start, ranges[i].Low)
		ranges[i].High = intOr(r.End, ranges[i].High)
	}
	return ranges, nil
}

// Topology builds and validates the touch topology.
func (c *Config) Topology() (*geometry.Topology, error) {
	var mode geometry.Mode
	switch c.GetMode() {
	case "absolute":
		ranges, err := c.GetRingRanges()
		if err != nil {
			return nil, err
		}
		mode = geometry.NewAbsolute(ranges)
	case "relative":
		mode = geometry.NewRelative(
			intOr(c.touch().RelativeStart, DefaultRelativeStart),
			intOr(c.touch().RelativeThreshold, DefaultRelativeThreshold),
		)
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", geometry.ErrInvalidTopology, c.GetMode())
	}
	return geometry.NewTopology(c.GetDivisions(), c.GetPointerRadius(), c.GetRadiusCompensation(), mode)
}

// GetPort returns the device path for a side.
func (c *Config) GetPort(side protocol.Side) string {
	if side == protocol.Left {
		return stringOr(c.serial().LeftPort, DefaultLeftPort)
	}
	return stringOr(c.serial().RightPort, DefaultRightPort)
}

// PortOptions returns the serial options for both channels. Unset fields
// are left zero for serialmux to default.
func (c *Config) PortOptions() serialmux.PortOptions {
	s := c.serial()
	return serialmux.PortOptions{
		BaudRate:    intOr(s.BaudRate, 0),
		DataBits:    intOr(s.DataBits, 0),
		StopBits:    intOr(s.StopBits, 0),
		Parity:      stringOr(s.Parity, ""),
		ReadTimeout: durationOr(s.ReadTimeout, serialmux.DefaultReadTimeout),
	}
}

// GetAggregateInterval returns the snapshot rebuild period.
func (c *Config) GetAggregateInterval() time.Duration {
	return durationOr(c.AggregateInterval, DefaultAggregateInterval)
}

// GetLinkInterval returns the hardware polling period.
func (c *Config) GetLinkInterval() time.Duration {
	return durationOr(c.LinkInterval, DefaultLinkInterval)
}

// GetFrameLayout returns the frame packing layout.
func (c *Config) GetFrameLayout() (protocol.Layout, error) {
	if c.FrameLayout == nil {
		return protocol.Dense, nil
	}
	return protocol.ParseLayout(*c.FrameLayout)
}

// GetCaptureFrames reports whether outbound frames are captured.
func (c *Config) GetCaptureFrames() bool {
	return c.CaptureFrames != nil && *c.CaptureFrames
}
