// Package config loads the application configuration from an optional YAML
// file, SPELLCAST_* environment variables and command-line flags, in that
// order of precedence (flags win).
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/ayusman/spellcast/internal/classifier"
)

// Config is the complete application configuration.
type Config struct {
	Addr      string `yaml:"addr" env:"SPELLCAST_ADDR" env-default:"localhost:8080" env-description:"HTTP listen address"`
	DataDir   string `yaml:"data_dir" env:"SPELLCAST_DATA_DIR" env-description:"Directory for the database (default ~/.spellcast)"`
	WebDir    string `yaml:"web_dir" env:"SPELLCAST_WEB_DIR" env-description:"Static web page directory (searched when empty)"`
	PluginDir string `yaml:"plugin_dir" env:"SPELLCAST_PLUGIN_DIR" env-description:"Plugin directory (default <data_dir>/plugins)"`
	Tray      bool   `yaml:"tray" env:"SPELLCAST_TRAY" env-default:"true" env-description:"Show the system tray menu"`

	Camera CameraConfig `yaml:"camera"`
	Model  ModelConfig  `yaml:"model"`
	Loop   LoopConfig   `yaml:"loop"`
	Plugin PluginConfig `yaml:"plugin"`
	Log    LogConfig    `yaml:"log"`
}

// CameraConfig selects the capture device.
type CameraConfig struct {
	Device int `yaml:"device" env:"SPELLCAST_CAMERA" env-default:"0" env-description:"Camera device id"`
	FPS    int `yaml:"fps" env:"SPELLCAST_CAMERA_FPS" env-default:"15" env-description:"Camera frame rate"`
}

// ModelConfig selects the classifier backend and model.
type ModelConfig struct {
	URL         string        `yaml:"url" env:"SPELLCAST_MODEL_URL" env-description:"Model base URL, or service URL for the remote backend"`
	Backend     string        `yaml:"backend" env:"SPELLCAST_BACKEND" env-default:"dnn" env-description:"Classifier backend: dnn, onnx, subprocess or remote"`
	ONNXLibrary string        `yaml:"onnx_library" env:"SPELLCAST_ONNX_LIBRARY" env-description:"Path to the onnxruntime shared library"`
	Command     []string      `yaml:"command" env:"SPELLCAST_MODEL_COMMAND" env-separator:" " env-description:"Command for the subprocess backend"`
	LoadTimeout time.Duration `yaml:"load_timeout" env:"SPELLCAST_MODEL_TIMEOUT" env-default:"10s" env-description:"Model load timeout"`
}

// LoopConfig holds the prediction loop timing.
type LoopConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval" env:"SPELLCAST_POLL_INTERVAL" env-default:"500ms" env-description:"Delay between predictions"`
	NotReadyDelay   time.Duration `yaml:"not_ready_delay" env:"SPELLCAST_NOT_READY_DELAY" env-default:"500ms" env-description:"Retry delay when no frame is ready"`
	ErrorBackoff    time.Duration `yaml:"error_backoff" env:"SPELLCAST_ERROR_BACKOFF" env-default:"1s" env-description:"Retry delay after a classification error"`
	ModelRetryDelay time.Duration `yaml:"model_retry_delay" env:"SPELLCAST_MODEL_RETRY_DELAY" env-default:"1s" env-description:"Retry delay while no model is loaded"`
}

// PluginConfig holds the action plugin settings.
type PluginConfig struct {
	Timeout time.Duration `yaml:"timeout" env:"SPELLCAST_PLUGIN_TIMEOUT" env-default:"5s" env-description:"Plugin run timeout"`
}

// LogConfig holds the logger settings.
type LogConfig struct {
	Level string `yaml:"level" env:"SPELLCAST_LOG_LEVEL" env-default:"info" env-description:"Log level: debug, info, warn or error"`
	Dev   bool   `yaml:"dev" env:"SPELLCAST_LOG_DEV" env-default:"false" env-description:"Human-readable development logging"`
}

var errNoModel = errors.New("model url is required")

// Load builds the configuration for the given command-line arguments
// (without the program name).
func Load(args []string) (*Config, error) {
	return load(args, os.Stderr)
}

func load(args []string, output io.Writer) (*Config, error) {
	cfg := &Config{}

	fset := flag.NewFlagSet("spellcast", flag.ContinueOnError)
	fset.SetOutput(output)

	path := fset.String("config", os.Getenv("SPELLCAST_CONFIG"), "YAML config file")
	addr := fset.String("addr", "", "HTTP listen address")
	modelURL := fset.String("model", "", "Model base URL")
	backend := fset.String("backend", "", "Classifier backend")
	camera := fset.Int("camera", -1, "Camera device id")
	noTray := fset.Bool("no-tray", false, "Disable the system tray menu")
	debug := fset.Bool("debug", false, "Debug logging")

	fset.Usage = cleanenv.FUsage(output, cfg, nil, fset.Usage)

	if err := fset.Parse(args); err != nil {
		return nil, err
	}

	if *path != "" {
		if err := cleanenv.ReadConfig(*path, cfg); err != nil {
			return nil, fmt.Errorf("read config %s: %w", *path, err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	if *addr != "" {
		cfg.Addr = *addr
	}
	if *modelURL != "" {
		cfg.Model.URL = *modelURL
	}
	if *backend != "" {
		cfg.Model.Backend = *backend
	}
	if *camera >= 0 {
		cfg.Camera.Device = *camera
	}
	if *noTray {
		cfg.Tray = false
	}
	if *debug {
		cfg.Log.Level = "debug"
	}

	if err := cfg.setDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults fills the directories that depend on the user's home.
func (c *Config) setDefaults() error {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		c.DataDir = filepath.Join(home, ".spellcast")
	}
	if c.PluginDir == "" {
		c.PluginDir = filepath.Join(c.DataDir, "plugins")
	}
	return nil
}

// Validate checks the configuration for values the application cannot run with.
func (c *Config) Validate() error {
	if c.Model.URL == "" {
		return errNoModel
	}

	switch c.Model.Backend {
	case classifier.BackendDNN, classifier.BackendONNX, classifier.BackendRemote:
	case classifier.BackendSubprocess:
		if len(c.Model.Command) == 0 {
			return errors.New("subprocess backend needs a model command")
		}
	default:
		return fmt.Errorf("%w: %q", classifier.ErrUnknownBackend, c.Model.Backend)
	}

	if c.Camera.FPS <= 0 {
		return fmt.Errorf("camera fps must be positive, got %d", c.Camera.FPS)
	}
	if c.Model.LoadTimeout <= 0 {
		return fmt.Errorf("model load timeout must be positive, got %s", c.Model.LoadTimeout)
	}
	return nil
}

// DBPath returns the SQLite database path.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "spellcast.db")
}
