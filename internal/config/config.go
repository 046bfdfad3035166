package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/facelock.defaults.json"

// Duty bounds mirrored from the servo package so validation does not need to
// import it.
const (
	minDuty = 5
	maxDuty = 95
)

// Config is the root configuration for the tracker. Every field is optional;
// the Get* accessors supply the defaults for anything left unset, so partial
// files are safe.
type Config struct {
	// Capture and detection
	CameraIndex     *int    `json:"camera_index,omitempty" yaml:"camera_index,omitempty"`
	CascadePath     *string `json:"cascade_path,omitempty" yaml:"cascade_path,omitempty"`
	DetectorMinSize *int    `json:"detector_min_size,omitempty" yaml:"detector_min_size,omitempty"`
	DetectorMaxSize *int    `json:"detector_max_size,omitempty" yaml:"detector_max_size,omitempty"`
	FrameWidth      *int    `json:"frame_width,omitempty" yaml:"frame_width,omitempty"`
	FrameHeight     *int    `json:"frame_height,omitempty" yaml:"frame_height,omitempty"`
	FixturePath     *string `json:"fixture_path,omitempty" yaml:"fixture_path,omitempty"`

	// Actuator link
	PanAddress      *string `json:"pan_address,omitempty" yaml:"pan_address,omitempty"`
	TiltAddress     *string `json:"tilt_address,omitempty" yaml:"tilt_address,omitempty"`
	ServoDevice     *string `json:"servo_device,omitempty" yaml:"servo_device,omitempty"`
	PanDefaultDuty  *int    `json:"pan_default_duty,omitempty" yaml:"pan_default_duty,omitempty"`
	TiltDefaultDuty *int    `json:"tilt_default_duty,omitempty" yaml:"tilt_default_duty,omitempty"`
	SettleDelay     *string `json:"settle_delay,omitempty" yaml:"settle_delay,omitempty"` // duration string like "15ms"
	PcapPath        *string `json:"pcap_path,omitempty" yaml:"pcap_path,omitempty"`

	// Track controller
	CommandInterval *string `json:"command_interval,omitempty" yaml:"command_interval,omitempty"` // duration string like "650ms"
	PanThreshold    *int    `json:"pan_threshold,omitempty" yaml:"pan_threshold,omitempty"`
	TiltThreshold   *int    `json:"tilt_threshold,omitempty" yaml:"tilt_threshold,omitempty"`

	// Process
	DBPath       *string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	Listen       *string `json:"listen,omitempty" yaml:"listen,omitempty"`
	HealthListen *string `json:"health_listen,omitempty" yaml:"health_listen,omitempty"`
	LogFile      *string `json:"log_file,omitempty" yaml:"log_file,omitempty"`
}

// Empty returns a Config with all fields unset.
func Empty() *Config {
	return &Config{}
}

// Load reads a Config from a .json, .yaml or .yml file and validates it.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

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

	cfg := Empty()
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	for name, d := range map[string]*string{
		"settle_delay":     c.SettleDelay,
		"command_interval": c.CommandInterval,
	} {
		if d == nil || *d == "" {
			continue
		}
		v, err := time.ParseDuration(*d)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *d, err)
		}
		if v < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", name, *d)
		}
	}

	for name, addr := range map[string]*string{
		"pan_address":  c.PanAddress,
		"tilt_address": c.TiltAddress,
	} {
		if addr == nil {
			continue
		}
		if _, _, err := net.SplitHostPort(*addr); err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *addr, err)
		}
	}

	for name, duty := range map[string]*int{
		"pan_default_duty":  c.PanDefaultDuty,
		"tilt_default_duty": c.TiltDefaultDuty,
	} {
		if duty != nil && (*duty < minDuty || *duty > maxDuty) {
			return fmt.Errorf("%s must be between %d and %d, got %d", name, minDuty, maxDuty, *duty)
		}
	}

	if c.FrameWidth != nil && *c.FrameWidth <= 0 {
		return fmt.Errorf("frame_width must be positive, got %d", *c.FrameWidth)
	}
	if c.FrameHeight != nil && *c.FrameHeight <= 0 {
		return fmt.Errorf("frame_height must be positive, got %d", *c.FrameHeight)
	}
	if c.GetDetectorMinSize() > c.GetDetectorMaxSize() {
		return fmt.Errorf("detector_min_size %d exceeds detector_max_size %d",
			c.GetDetectorMinSize(), c.GetDetectorMaxSize())
	}
	if c.CameraIndex != nil && *c.CameraIndex < 0 {
		return fmt.Errorf("camera_index must be non-negative, got %d", *c.CameraIndex)
	}
	return nil
}

func durationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def
	}
	return d
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func stringOr(v *string, def string) string {
	if v == nil {
		return def
	}
	return *v
}

// GetCameraIndex returns the camera_index value or the default.
func (c *Config) GetCameraIndex() int { return intOr(c.CameraIndex, 0) }

// GetCascadePath returns the cascade_path value or the default.
func (c *Config) GetCascadePath() string {
	return stringOr(c.CascadePath, "haarcascade_frontalface_default.xml")
}

// GetDetectorMinSize returns the detector_min_size value or the default.
func (c *Config) GetDetectorMinSize() int { return intOr(c.DetectorMinSize, 100) }

// GetDetectorMaxSize returns the detector_max_size value or the default.
func (c *Config) GetDetectorMaxSize() int { return intOr(c.DetectorMaxSize, 180) }

// GetFrameWidth returns the frame_width value or the default.
func (c *Config) GetFrameWidth() int { return intOr(c.FrameWidth, 680) }

// GetFrameHeight returns the frame_height value or the default.
func (c *Config) GetFrameHeight() int { return intOr(c.FrameHeight, 480) }

// GetFixturePath returns the fixture_path value or the default.
func (c *Config) GetFixturePath() string { return stringOr(c.FixturePath, "fixtures.jsonl") }

// GetPanAddress returns the pan_address value or the default.
func (c *Config) GetPanAddress() string { return stringOr(c.PanAddress, "127.0.0.1:55555") }

// GetTiltAddress returns the tilt_address value or the default.
func (c *Config) GetTiltAddress() string { return stringOr(c.TiltAddress, "127.0.0.1:55556") }

// GetServoDevice returns the servo_device value. Empty selects the UDP link.
func (c *Config) GetServoDevice() string { return stringOr(c.ServoDevice, "") }

// GetPanDefaultDuty returns the pan_default_duty value or the default.
func (c *Config) GetPanDefaultDuty() int { return intOr(c.PanDefaultDuty, 50) }

// GetTiltDefaultDuty returns the tilt_default_duty value or the default.
func (c *Config) GetTiltDefaultDuty() int { return intOr(c.TiltDefaultDuty, minDuty) }

// GetSettleDelay parses and returns the SettleDelay as a time.Duration.
func (c *Config) GetSettleDelay() time.Duration {
	return durationOr(c.SettleDelay, 15*time.Millisecond)
}

// GetPcapPath returns the pcap_path value. Empty disables recording.
func (c *Config) GetPcapPath() string { return stringOr(c.PcapPath, "") }

// GetCommandInterval parses and returns the CommandInterval as a time.Duration.
func (c *Config) GetCommandInterval() time.Duration {
	return durationOr(c.CommandInterval, 650*time.Millisecond)
}

// GetPanThreshold returns the pan_threshold value or the default.
func (c *Config) GetPanThreshold() int { return intOr(c.PanThreshold, 50) }

// GetTiltThreshold returns the tilt_threshold value or the default.
func (c *Config) GetTiltThreshold() int { return intOr(c.TiltThreshold, 30) }

// GetDBPath returns the db_path value or the default.
func (c *Config) GetDBPath() string { return stringOr(c.DBPath, "facelock.db") }

// GetListen returns the listen value or the default. Empty disables HTTP.
func (c *Config) GetListen() string { return stringOr(c.Listen, ":8080") }

// GetHealthListen returns the gRPC health service address or the default.
// Empty or "off" disables it.
func (c *Config) GetHealthListen() string { return stringOr(c.HealthListen, "localhost:50051") }

// GetLogFile returns the log_file value. Empty logs to stderr only.
func (c *Config) GetLogFile() string { return stringOr(c.LogFile, "") }
