package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where Load looks for the configuration file
const DefaultPath = "config/config.yaml"

type Config struct {
	Server    Server    `yaml:"server"`
	Sync      Sync      `yaml:"sync"`
	Repos     []Repo    `yaml:"repos"`
	Storage   Storage   `yaml:"storage"`
	Download  Download  `yaml:"download"`
	RateLimit RateLimit `yaml:"rate_limit"`
	Log       Log       `yaml:"log"`
	Client    Client    `yaml:"client"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Sync struct {
	Interval time.Duration `yaml:"interval"`
}

// Repo is a git repository holding a <types>/<archive>.7z tree
type Repo struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
	LFS  bool   `yaml:"lfs"`
}

type Storage struct {
	Path string `yaml:"path"`
}

// Download holds the public base URL archives are served under
type Download struct {
	BaseURL string `yaml:"base_url"`
}

type RateLimit struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

type Log struct {
	Level      string `yaml:"level"`       // debug, info, warn, error
	Filename   string `yaml:"filename"`    // log file path, stdout only when empty
	MaxSize    int    `yaml:"max_size"`    // megabytes
	MaxBackups int    `yaml:"max_backups"` // number of backups
	MaxAge     int    `yaml:"max_age"`     // days
	Compress   bool   `yaml:"compress"`    // compress rotated files
}

// Client configures the ept command line client
type Client struct {
	BaseURL string `yaml:"base_url"`
}

// Default returns the configuration used when no file is present
func Default() *Config {
	return &Config{
		Server:    Server{Port: 8080},
		Sync:      Sync{Interval: time.Hour},
		Storage:   Storage{Path: "data"},
		Download:  Download{BaseURL: "http://localhost:8080/"},
		RateLimit: RateLimit{RPS: 10, Burst: 20},
		Log:       Log{Level: "info"},
	}
}

// Load loads the configuration from the default config file
func Load() (*Config, error) {
	return LoadFromFile(DefaultPath)
}

// LoadFromFile loads the configuration from the specified file.
// Fields missing from the file keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}

// EnsureDirs creates the storage directories if they don't exist
func (c *Config) EnsureDirs() error {
	dirs := []string{
		c.RepoDir(),
		c.PackageDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// RepoDir is the parent directory of git sources
func (c *Config) RepoDir() string {
	return filepath.Join(c.Storage.Path, "repos")
}

// PackageDir holds archives published without a git source
func (c *Config) PackageDir() string {
	return filepath.Join(c.Storage.Path, "packages")
}
