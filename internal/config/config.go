// Package config loads the tracker's JSON configuration. Every field is
// optional; the Get* accessors supply the defaults, which are also written
// out in config/yawtrack.defaults.json.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/banshee-data/yawtrack/internal/control"
	"github.com/banshee-data/yawtrack/internal/mode"
	"github.com/banshee-data/yawtrack/internal/units"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/yawtrack.defaults.json"

// Transport names.
const (
	TransportMAVLink = "mavlink"
	TransportSerial  = "serial"
	TransportReplay  = "replay"
	TransportSim     = "sim"
)

// ValidTransports lists the accepted transport names.
var ValidTransports = []string{TransportMAVLink, TransportSerial, TransportReplay, TransportSim}

// Config is the root configuration.
type Config struct {
	// Telemetry link
	Transport       *string  `json:"transport,omitempty"`
	ReceiverAddress *string  `json:"receiver_address,omitempty"` // UDP listen address for reports
	SenderAddress   *string  `json:"sender_address,omitempty"`   // UDP address commands are sent to
	LocalAddress    *string  `json:"local_address,omitempty"`    // local bind address for sending
	SerialPort      *string  `json:"serial_port,omitempty"`
	SerialBaudRate  *int     `json:"serial_baud_rate,omitempty"`
	SerialDataBits  *int     `json:"serial_data_bits,omitempty"`
	SerialStopBits  *int     `json:"serial_stop_bits,omitempty"`
	SerialParity    *string  `json:"serial_parity,omitempty"`
	SerialProtocol  *string  `json:"serial_protocol,omitempty"` // mavlink or lines
	ReplayFile      *string  `json:"replay_file,omitempty"`
	ReplayPort      *int     `json:"replay_port,omitempty"`
	ReplaySpeed     *float64 `json:"replay_speed,omitempty"`
	ReportRateHz    *float64 `json:"report_rate_hz,omitempty"`
	AckTimeout      *string  `json:"ack_timeout,omitempty"` // duration string like "1s"
	SourceSystemID  *int     `json:"source_system_id,omitempty"`
	TargetSystem    *int     `json:"target_system,omitempty"`
	TargetComponent *int     `json:"target_component,omitempty"`
	OrientationHold *bool    `json:"orientation_hold,omitempty"`

	// Unit conversion
	PixelMin *float64 `json:"pixel_min,omitempty"`
	PixelMax *float64 `json:"pixel_max,omitempty"`
	ARUMin   *float64 `json:"aru_min,omitempty"`
	ARUMax   *float64 `json:"aru_max,omitempty"`

	// Controller
	Controller   *string  `json:"controller,omitempty"`
	DeadZonePx   *float64 `json:"dead_zone_px,omitempty"`
	LeverFactor  *float64 `json:"lever_factor,omitempty"`
	FixedSpeedPx *float64 `json:"fixed_speed_px,omitempty"`
	MaxRatePx    *float64 `json:"max_rate_px,omitempty"`

	// Mode coordinator and monitoring
	DegradedPolicy *string `json:"degraded_policy,omitempty"`
	HistorySize    *int    `json:"history_size,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// LoadConfig loads a Config from a JSON file.
// The file must have a .json extension and be under 1MB. Fields omitted
// from the file fall back to the Get* defaults, so partial configs are safe.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
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

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching upwards from the
// working directory. Panics if the file cannot be loaded; intended for tests.
func MustLoadDefaultConfig() *Config {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/tools/*
	}
	for _, path := range candidates {
		if cfg, err := LoadConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the values that are set. Construction of the converter
// and controller repeats the range and parameter checks.
func (c *Config) Validate() error {
	if c.Transport != nil && !slices.Contains(ValidTransports, *c.Transport) {
		return fmt.Errorf("transport must be one of %v, got %q", ValidTransports, *c.Transport)
	}
	if c.SerialProtocol != nil && *c.SerialProtocol != "mavlink" && *c.SerialProtocol != "lines" {
		return fmt.Errorf("serial_protocol must be mavlink or lines, got %q", *c.SerialProtocol)
	}
	if c.GetTransport() == TransportReplay && c.GetReplayFile() == "" {
		return fmt.Errorf("replay_file is required for the replay transport")
	}
	if c.ReportRateHz != nil && *c.ReportRateHz < 0 {
		return fmt.Errorf("report_rate_hz must be non-negative, got %f", *c.ReportRateHz)
	}
	if c.AckTimeout != nil && *c.AckTimeout != "" {
		if _, err := time.ParseDuration(*c.AckTimeout); err != nil {
			return fmt.Errorf("invalid ack_timeout '%s': %w", *c.AckTimeout, err)
		}
	}
	for name, v := range map[string]*int{
		"source_system_id": c.SourceSystemID,
		"target_system":    c.TargetSystem,
		"target_component": c.TargetComponent,
	} {
		if v != nil && (*v < 0 || *v > 255) {
			return fmt.Errorf("%s must be between 0 and 255, got %d", name, *v)
		}
	}
	if c.ReplayPort != nil && (*c.ReplayPort < 0 || *c.ReplayPort > 65535) {
		return fmt.Errorf("replay_port must be between 0 and 65535, got %d", *c.ReplayPort)
	}

	if err := c.PixelRange().Validate(); err != nil {
		return fmt.Errorf("pixel range: %w", err)
	}
	if err := c.NormalizedRange().Validate(); err != nil {
		return fmt.Errorf("aru range: %w", err)
	}

	if c.Controller != nil && !slices.Contains(control.ValidVariants, *c.Controller) {
		return fmt.Errorf("controller must be one of %v, got %q", control.ValidVariants, *c.Controller)
	}
	if c.DegradedPolicy != nil {
		if _, err := mode.ParseDegradedPolicy(*c.DegradedPolicy); err != nil {
			return err
		}
	}
	if c.HistorySize != nil && *c.HistorySize <= 0 {
		return fmt.Errorf("history_size must be positive, got %d", *c.HistorySize)
	}
	return nil
}

// GetTransport returns the transport value or the default.
func (c *Config) GetTransport() string {
	if c.Transport == nil {
		return TransportMAVLink
	}
	return *c.Transport
}

// GetReceiverAddress returns the receiver_address value or the default.
func (c *Config) GetReceiverAddress() string {
	if c.ReceiverAddress == nil {
		return "0.0.0.0:14550"
	}
	return *c.ReceiverAddress
}

// GetSenderAddress returns the sender_address value. Empty means replies go
// back to whoever the reports came from.
func (c *Config) GetSenderAddress() string {
	if c.SenderAddress == nil {
		return ""
	}
	return *c.SenderAddress
}

// GetLocalAddress returns the local_address value or the default (unset).
func (c *Config) GetLocalAddress() string {
	if c.LocalAddress == nil {
		return ""
	}
	return *c.LocalAddress
}

// GetSerialPort returns the serial_port value or the default.
func (c *Config) GetSerialPort() string {
	if c.SerialPort == nil {
		return "/dev/ttyAMA0"
	}
	return *c.SerialPort
}

// GetSerialProtocol returns the serial_protocol value or the default.
func (c *Config) GetSerialProtocol() string {
	if c.SerialProtocol == nil {
		return "mavlink"
	}
	return *c.SerialProtocol
}

// GetSerialBaudRate returns the serial_baud_rate value or the default.
func (c *Config) GetSerialBaudRate() int {
	if c.SerialBaudRate == nil {
		return 57600
	}
	return *c.SerialBaudRate
}

// GetSerialDataBits returns the serial_data_bits value or the default.
func (c *Config) GetSerialDataBits() int {
	if c.SerialDataBits == nil {
		return 8
	}
	return *c.SerialDataBits
}

// GetSerialStopBits returns the serial_stop_bits value or the default.
func (c *Config) GetSerialStopBits() int {
	if c.SerialStopBits == nil {
		return 1
	}
	return *c.SerialStopBits
}

// GetSerialParity returns the serial_parity value or the default.
func (c *Config) GetSerialParity() string {
	if c.SerialParity == nil {
		return "N"
	}
	return *c.SerialParity
}

// GetReplayFile returns the replay_file value or the default (unset).
func (c *Config) GetReplayFile() string {
	if c.ReplayFile == nil {
		return ""
	}
	return *c.ReplayFile
}

// GetReplayPort returns the replay_port value; zero accepts any port.
func (c *Config) GetReplayPort() int {
	if c.ReplayPort == nil {
		return 0
	}
	return *c.ReplayPort
}

// GetReplaySpeed returns the replay_speed value or the default.
func (c *Config) GetReplaySpeed() float64 {
	if c.ReplaySpeed == nil {
		return 1.0
	}
	return *c.ReplaySpeed
}

// GetReportRateHz returns the report_rate_hz value or the default.
func (c *Config) GetReportRateHz() float64 {
	if c.ReportRateHz == nil {
		return 50
	}
	return *c.ReportRateHz
}

// GetAckTimeout parses and returns the AckTimeout as a time.Duration.
func (c *Config) GetAckTimeout() time.Duration {
	if c.AckTimeout == nil || *c.AckTimeout == "" {
		return time.Second
	}
	d, err := time.ParseDuration(*c.AckTimeout)
	if err != nil {
		return time.Second
	}
	return d
}

// GetSourceSystemID returns the source_system_id value or the default.
func (c *Config) GetSourceSystemID() uint8 {
	if c.SourceSystemID == nil {
		return 255
	}
	return uint8(*c.SourceSystemID)
}

// GetTargetSystem returns the target_system value. Zero means the system
// that answered the heartbeat.
func (c *Config) GetTargetSystem() uint8 {
	if c.TargetSystem == nil {
		return 1
	}
	return uint8(*c.TargetSystem)
}

// GetTargetComponent returns the target_component value or the default.
func (c *Config) GetTargetComponent() uint8 {
	if c.TargetComponent == nil {
		return 1
	}
	return uint8(*c.TargetComponent)
}

// GetOrientationHold returns the orientation_hold value or the default.
func (c *Config) GetOrientationHold() bool {
	if c.OrientationHold == nil {
		return false
	}
	return *c.OrientationHold
}

// PixelRange returns the configured image width range.
func (c *Config) PixelRange() units.Range {
	r := units.Range{Min: units.DefaultPixelMin, Max: units.DefaultPixelMax}
	if c.PixelMin != nil {
		r.Min = *c.PixelMin
	}
	if c.PixelMax != nil {
		r.Max = *c.PixelMax
	}
	return r
}

// NormalizedRange returns the configured ARU range.
func (c *Config) NormalizedRange() units.Range {
	r := units.Range{Min: units.DefaultARUMin, Max: units.DefaultARUMax}
	if c.ARUMin != nil {
		r.Min = *c.ARUMin
	}
	if c.ARUMax != nil {
		r.Max = *c.ARUMax
	}
	return r
}

// Converter builds the unit converter from the configured ranges.
func (c *Config) Converter() (*units.Converter, error) {
	return units.NewConverter(c.PixelRange(), c.NormalizedRange())
}

// ControllerParams returns the controller selection, starting from
// control.DefaultParams.
func (c *Config) ControllerParams() control.Params {
	p := control.DefaultParams()
	if c.Controller != nil {
		p.Variant = *c.Controller
	}
	if c.DeadZonePx != nil {
		p.DeadZonePx = *c.DeadZonePx
	}
	if c.LeverFactor != nil {
		p.LeverFactor = *c.LeverFactor
	}
	if c.FixedSpeedPx != nil {
		p.SpeedPx = *c.FixedSpeedPx
	}
	if c.MaxRatePx != nil {
		p.MaxRatePx = *c.MaxRatePx
	}
	return p
}

// GetDegradedPolicy returns the degraded_policy value or the default.
func (c *Config) GetDegradedPolicy() mode.DegradedPolicy {
	if c.DegradedPolicy == nil {
		return mode.PolicySkip
	}
	p, err := mode.ParseDegradedPolicy(*c.DegradedPolicy)
	if err != nil {
		return mode.PolicySkip
	}
	return p
}

// GetHistorySize returns the history_size value or the default.
func (c *Config) GetHistorySize() int {
	if c.HistorySize == nil {
		return 600
	}
	return *c.HistorySize
}
