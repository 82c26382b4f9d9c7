package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// CameraConfig describes a single RTSP camera. It is immutable for the
// lifetime of a stream session; a config reload produces new values
// instead of mutating live ones.
type CameraConfig struct {
	Name       string `yaml:"name"`
	Address    string `yaml:"address"`
	Port       int    `yaml:"port"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	Path       string `yaml:"path"`
	LowLatency bool   `yaml:"low_latency"`
}

// RTSPURL generates the RTSP URL with URL-encoded credentials.
func (c CameraConfig) RTSPURL() string {
	path := c.Path
	if path != "" && path[0] != '/' {
		path = "/" + path
	}

	if c.Username == "" && c.Password == "" {
		return fmt.Sprintf("rtsp://%s:%d%s", c.Address, c.Port, path)
	}

	user := url.QueryEscape(c.Username)
	pass := url.QueryEscape(c.Password)
	return fmt.Sprintf("rtsp://%s:%s@%s:%d%s", user, pass, c.Address, c.Port, path)
}

// DisplayURL generates the RTSP URL without credentials for logs and UIs.
func (c CameraConfig) DisplayURL() string {
	path := c.Path
	if path != "" && path[0] != '/' {
		path = "/" + path
	}
	return fmt.Sprintf("rtsp://%s:%d%s", c.Address, c.Port, path)
}

// Validate checks the camera entry once at load time.
func (c CameraConfig) Validate() error {
	if c.Name == "" {
		return NewConfigError(c.Name, "name", "camera name is required")
	}
	if c.Address == "" {
		return NewConfigError(c.Name, "address", "camera address is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return NewConfigError(c.Name, "port", fmt.Sprintf("invalid port %d", c.Port))
	}
	return nil
}

// StreamSettings holds the connection-health tuning knobs. The defaults
// mirror the product-chosen values; they are configurable but rarely need
// changing.
type StreamSettings struct {
	HealthCheckSeconds    int `yaml:"health_check_seconds"`
	FrameTimeoutSeconds   int `yaml:"frame_timeout_seconds"`
	ConnectTimeoutSeconds int `yaml:"connect_timeout_seconds"`
	ReconnectDelaySeconds int `yaml:"reconnect_delay_seconds"`
	MaxReconnectAttempts  int `yaml:"max_reconnect_attempts"`
	FrameBufferSize       int `yaml:"frame_buffer_size"`
}

func (s StreamSettings) HealthCheckInterval() time.Duration {
	return time.Duration(s.HealthCheckSeconds) * time.Second
}

func (s StreamSettings) FrameTimeout() time.Duration {
	return time.Duration(s.FrameTimeoutSeconds) * time.Second
}

func (s StreamSettings) ConnectTimeout() time.Duration {
	return time.Duration(s.ConnectTimeoutSeconds) * time.Second
}

func (s StreamSettings) ReconnectDelay() time.Duration {
	return time.Duration(s.ReconnectDelaySeconds) * time.Second
}

// Validate rejects negative tuning values. Defaults only replace zeros,
// so a negative entry would otherwise slip through and make timers fire
// immediately or disable the reconnect budget outright.
func (s StreamSettings) Validate() error {
	checks := []struct {
		field string
		value int
	}{
		{"stream.health_check_seconds", s.HealthCheckSeconds},
		{"stream.frame_timeout_seconds", s.FrameTimeoutSeconds},
		{"stream.connect_timeout_seconds", s.ConnectTimeoutSeconds},
		{"stream.reconnect_delay_seconds", s.ReconnectDelaySeconds},
		{"stream.max_reconnect_attempts", s.MaxReconnectAttempts},
		{"stream.frame_buffer_size", s.FrameBufferSize},
	}
	for _, check := range checks {
		if check.value < 0 {
			return NewConfigError("", check.field, fmt.Sprintf("must not be negative, got %d", check.value))
		}
	}
	return nil
}

// RecordingSettings holds the segment-rotation tuning knobs.
type RecordingSettings struct {
	SegmentMinutes    int    `yaml:"segment_minutes"`
	RecordAudio       bool   `yaml:"record_audio"`
	AudioBitRate      string `yaml:"audio_bitrate"`
	MaxFailures       int    `yaml:"max_failures"`
	RetryDelaySeconds int    `yaml:"retry_delay_seconds"`
}

func (s RecordingSettings) SegmentDuration() time.Duration {
	return time.Duration(s.SegmentMinutes) * time.Minute
}

func (s RecordingSettings) RetryDelay() time.Duration {
	return time.Duration(s.RetryDelaySeconds) * time.Second
}

// Validate rejects negative tuning values.
func (s RecordingSettings) Validate() error {
	checks := []struct {
		field string
		value int
	}{
		{"recording.segment_minutes", s.SegmentMinutes},
		{"recording.max_failures", s.MaxFailures},
		{"recording.retry_delay_seconds", s.RetryDelaySeconds},
	}
	for _, check := range checks {
		if check.value < 0 {
			return NewConfigError("", check.field, fmt.Sprintf("must not be negative, got %d", check.value))
		}
	}
	return nil
}

// AudioSettings holds the audio playback supervision knobs.
type AudioSettings struct {
	RestartLimit        int `yaml:"restart_limit"`
	RestartDelaySeconds int `yaml:"restart_delay_seconds"`
}

func (s AudioSettings) RestartDelay() time.Duration {
	return time.Duration(s.RestartDelaySeconds) * time.Second
}

// Validate rejects negative tuning values.
func (s AudioSettings) Validate() error {
	if s.RestartLimit < 0 {
		return NewConfigError("", "audio.restart_limit", fmt.Sprintf("must not be negative, got %d", s.RestartLimit))
	}
	if s.RestartDelaySeconds < 0 {
		return NewConfigError("", "audio.restart_delay_seconds", fmt.Sprintf("must not be negative, got %d", s.RestartDelaySeconds))
	}
	return nil
}

// Config holds the application configuration
type Config struct {
	Cameras      []CameraConfig    `yaml:"cameras"`
	OutputDir    string            `yaml:"output_dir"`
	DatabasePath string            `yaml:"database_path"`
	ListenPort   int               `yaml:"listen_port"`
	LogLevel     string            `yaml:"log_level"`
	LogDir       string            `yaml:"log_dir"`
	Stream       StreamSettings    `yaml:"stream"`
	Recording    RecordingSettings `yaml:"recording"`
	Audio        AudioSettings     `yaml:"audio"`
}

// LoadConfig loads configuration from a YAML file and validates the
// tuning sections and every camera entry. Any entry that fails
// validation fails the whole load; the registry never sees half-valid
// configuration.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	if err := config.Stream.Validate(); err != nil {
		return nil, err
	}
	if err := config.Recording.Validate(); err != nil {
		return nil, err
	}
	if err := config.Audio.Validate(); err != nil {
		return nil, err
	}

	for _, camera := range config.Cameras {
		if err := camera.Validate(); err != nil {
			return nil, err
		}
	}

	seen := make(map[string]struct{}, len(config.Cameras))
	for _, camera := range config.Cameras {
		if _, dup := seen[camera.Name]; dup {
			return nil, NewConfigError(camera.Name, "name", "duplicate camera name")
		}
		seen[camera.Name] = struct{}{}
	}

	return &config, nil
}

// applyDefaults fills in defaults for missing values
func (c *Config) applyDefaults() {
	if c.OutputDir == "" {
		c.OutputDir = "recordings"
	}
	if c.DatabasePath == "" {
		c.DatabasePath = "rtsp-viewer.db"
	}
	if c.ListenPort == 0 {
		c.ListenPort = 8080
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	for i := range c.Cameras {
		if c.Cameras[i].Port == 0 {
			c.Cameras[i].Port = 554 // default RTSP port
		}
	}

	if c.Stream.HealthCheckSeconds == 0 {
		c.Stream.HealthCheckSeconds = 5
	}
	if c.Stream.FrameTimeoutSeconds == 0 {
		c.Stream.FrameTimeoutSeconds = 10
	}
	if c.Stream.ConnectTimeoutSeconds == 0 {
		c.Stream.ConnectTimeoutSeconds = 10
	}
	if c.Stream.ReconnectDelaySeconds == 0 {
		c.Stream.ReconnectDelaySeconds = 2
	}
	if c.Stream.MaxReconnectAttempts == 0 {
		c.Stream.MaxReconnectAttempts = 5
	}
	if c.Stream.FrameBufferSize == 0 {
		c.Stream.FrameBufferSize = 8
	}

	if c.Recording.SegmentMinutes == 0 {
		c.Recording.SegmentMinutes = 30
	}
	if c.Recording.AudioBitRate == "" {
		c.Recording.AudioBitRate = "128k"
	}
	if c.Recording.MaxFailures == 0 {
		c.Recording.MaxFailures = 5
	}
	if c.Recording.RetryDelaySeconds == 0 {
		c.Recording.RetryDelaySeconds = 5
	}

	if c.Audio.RestartLimit == 0 {
		c.Audio.RestartLimit = 3
	}
	if c.Audio.RestartDelaySeconds == 0 {
		c.Audio.RestartDelaySeconds = 1
	}
}

// ConfigOverrides holds potential override values for configuration
type ConfigOverrides struct {
	OutputDir    *string
	DatabasePath *string
	ListenPort   *int
	LogLevel     *string
	LogDir       *string
}

// Override allows overriding specific configuration values using ConfigOverrides struct
func (c *Config) Override(overrides ConfigOverrides) {
	if overrides.OutputDir != nil && *overrides.OutputDir != "" {
		c.OutputDir = *overrides.OutputDir
	}
	if overrides.DatabasePath != nil && *overrides.DatabasePath != "" {
		c.DatabasePath = *overrides.DatabasePath
	}
	if overrides.ListenPort != nil && *overrides.ListenPort > 0 {
		c.ListenPort = *overrides.ListenPort
	}
	if overrides.LogLevel != nil && *overrides.LogLevel != "" {
		c.LogLevel = *overrides.LogLevel
	}
	if overrides.LogDir != nil && *overrides.LogDir != "" {
		c.LogDir = *overrides.LogDir
	}
}
