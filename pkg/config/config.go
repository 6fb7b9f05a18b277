package config

import (
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".gpudbg"
	configFile string = "config.yml"
)

// Default endpoint names, matching the names the simulator connects to.
const (
	DefaultControlPipe   = "gpu-pipe-step"
	DefaultTelemetryPipe = "gpu-pipe-info"
	DefaultPollInterval  = 5 * time.Millisecond
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Commands aliases.
	Aliases map[string][]string `yaml:"aliases"`

	// ControlPipe and TelemetryPipe are the names of the two endpoints the
	// simulator connects to. Relative names are resolved against SocketDir.
	ControlPipe   string `yaml:"control-pipe,omitempty"`
	TelemetryPipe string `yaml:"telemetry-pipe,omitempty"`
	// SocketDir is the directory the endpoints are created in, defaults to
	// the system temporary directory.
	SocketDir string `yaml:"socket-dir,omitempty"`

	// StartPaused is sent to the simulator when it connects, telling it to
	// halt before executing its first cycle.
	StartPaused bool `yaml:"start-paused"`

	// PollInterval is how often the control channel is polled.
	PollInterval time.Duration `yaml:"poll-interval,omitempty"`

	// DisplayFloat makes front ends show register values as float32
	// instead of hexadecimal.
	DisplayFloat bool `yaml:"display-float"`

	// CheckLocalConnUser rejects simulator connections coming from a
	// different user.
	CheckLocalConnUser bool `yaml:"check-local-conn-user"`

	// Default listen addresses for the DAP server and the HTTP monitor.
	DAPListen string `yaml:"dap-listen,omitempty"`
	WebListen string `yaml:"web-listen,omitempty"`
}

// ControlPath returns the full path of the control endpoint.
func (c *Config) ControlPath() string {
	return c.endpoint(c.ControlPipe, DefaultControlPipe)
}

// TelemetryPath returns the full path of the telemetry endpoint.
func (c *Config) TelemetryPath() string {
	return c.endpoint(c.TelemetryPipe, DefaultTelemetryPipe)
}

func (c *Config) endpoint(name, def string) string {
	if name == "" {
		name = def
	}
	if filepath.IsAbs(name) {
		return name
	}
	dir := c.SocketDir
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, name)
}

// GetPollInterval returns the configured poll interval or the default.
func (c *Config) GetPollInterval() time.Duration {
	if c.PollInterval <= 0 {
		return DefaultPollInterval
	}
	return c.PollInterval
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() (*Config, error) {
	err := createConfigPath()
	if err != nil {
		return &Config{}, fmt.Errorf("could not create config directory: %v", err)
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to get config file path: %v", err)
	}
	return loadConfigFile(fullConfigFile)
}

func loadConfigFile(fullConfigFile string) (*Config, error) {
	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			return &Config{}, fmt.Errorf("error creating default config file: %v", err)
		}
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to read config data: %v", err)
	}

	var c Config
	err = yaml.Unmarshal(data, &c)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to decode config file: %v", err)
	}

	return &c, nil
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}
	return saveConfigFile(fullConfigFile, conf)
}

func saveConfigFile(fullConfigFile string, conf *Config) error {
	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for the gpudbg simulator debugger.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Names of the endpoints the simulator connects to. Relative names are
# created inside socket-dir (default: the system temporary directory).
# control-pipe: gpu-pipe-step
# telemetry-pipe: gpu-pipe-info
# socket-dir: /tmp

# Ask the simulator to halt before its first cycle.
# start-paused: true

# How often the control channel is polled.
# poll-interval: 5ms

# Show register values as float32 instead of hexadecimal.
# display-float: true

# Reject simulator connections made by a different user.
# check-local-conn-user: true

# Default listen addresses for "gpudbg dap" and "gpudbg web".
# dap-listen: 127.0.0.1:4711
# web-listen: 127.0.0.1:8080

# Provided aliases will be added to the default aliases for a given command.
aliases:
  # command: ["alias1", "alias2"]
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	if configPath := os.Getenv("GPUDBG_CONFIG_DIR"); configPath != "" {
		return filepath.Join(configPath, file), nil
	}

	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return filepath.Join(userHomeDir, configDir, file), nil
}
