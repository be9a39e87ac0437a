// Package config provides centralized configuration for the ImagePro backend.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/kurobon/imagepro/internal/history"
	"github.com/kurobon/imagepro/internal/imaging"
)

// Config holds application-wide configuration.
type Config struct {
	Addr string `yaml:"addr" toml:"addr"`

	// CatalogDir holds YAML tool definitions. Empty means the built-in catalog.
	CatalogDir string `yaml:"catalog_dir" toml:"catalog_dir"`

	History  HistoryConfig `yaml:"history" toml:"history"`
	Sessions SessionConfig `yaml:"sessions" toml:"sessions"`
	Uploads  UploadConfig  `yaml:"uploads" toml:"uploads"`
	Auth     AuthConfig    `yaml:"auth" toml:"auth"`
	Vendors  VendorsConfig `yaml:"vendors" toml:"vendors"`
	Preview  PreviewConfig `yaml:"preview" toml:"preview"`
}

type HistoryConfig struct {
	// Capacity bounds the number of snapshots kept per session.
	Capacity int `yaml:"capacity" toml:"capacity"`
}

type SessionConfig struct {
	IdleTTL       Duration `yaml:"idle_ttl" toml:"idle_ttl"`
	SweepInterval Duration `yaml:"sweep_interval" toml:"sweep_interval"`
}

type UploadConfig struct {
	MaxBytes int64    `yaml:"max_bytes" toml:"max_bytes"`
	Allowed  []string `yaml:"allowed" toml:"allowed"` // filename globs
	// MaxPixels bounds width*height of every decoded image.
	MaxPixels int64 `yaml:"max_pixels" toml:"max_pixels"`
}

type AuthConfig struct {
	TokenTTL Duration `yaml:"token_ttl" toml:"token_ttl"`
	// Disabled turns off the token gate. Intended for local development.
	Disabled bool `yaml:"disabled" toml:"disabled"`
}

type PreviewConfig struct {
	MaxEdge int `yaml:"max_edge" toml:"max_edge"`
}

// VendorsConfig holds credentials and endpoints of the AI providers.
type VendorsConfig struct {
	Groq      GroqConfig      `yaml:"groq" toml:"groq"`
	RemoveBG  RemoveBGConfig  `yaml:"removebg" toml:"removebg"`
	Replicate ReplicateConfig `yaml:"replicate" toml:"replicate"`
	Gradio    GradioConfig    `yaml:"gradio" toml:"gradio"`
	Timeout   Duration        `yaml:"timeout" toml:"timeout"`
}

type GroqConfig struct {
	APIKey  string `yaml:"api_key" toml:"api_key"`
	BaseURL string `yaml:"base_url" toml:"base_url"`
	Model   string `yaml:"model" toml:"model"`
}

type RemoveBGConfig struct {
	APIKey  string `yaml:"api_key" toml:"api_key"`
	BaseURL string `yaml:"base_url" toml:"base_url"`
}

type ReplicateConfig struct {
	APIToken       string   `yaml:"api_token" toml:"api_token"`
	BaseURL        string   `yaml:"base_url" toml:"base_url"`
	UpscaleVersion string   `yaml:"upscale_version" toml:"upscale_version"`
	FaceVersion    string   `yaml:"face_version" toml:"face_version"`
	PollInterval   Duration `yaml:"poll_interval" toml:"poll_interval"`
}

type GradioConfig struct {
	SpaceURL string `yaml:"space_url" toml:"space_url"`
	Endpoint string `yaml:"endpoint" toml:"endpoint"`
	Token    string `yaml:"token" toml:"token"`
}

// DefaultConfig returns the default configuration, reading from environment variables.
func DefaultConfig() *Config {
	c := &Config{
		Addr:       envOr("IMAGEPRO_ADDR", ":8080"),
		CatalogDir: os.Getenv("IMAGEPRO_CATALOG_DIR"),
		History: HistoryConfig{
			Capacity: envInt("IMAGEPRO_HISTORY_CAPACITY", history.DefaultCapacity),
		},
		Sessions: SessionConfig{
			IdleTTL:       envDuration("IMAGEPRO_SESSION_TTL", 2*time.Hour),
			SweepInterval: Duration(5 * time.Minute),
		},
		Uploads: UploadConfig{
			MaxBytes:  20 << 20,
			Allowed:   []string{"*.png", "*.jpg", "*.jpeg"},
			MaxPixels: imaging.DefaultMaxPixels,
		},
		Auth: AuthConfig{
			TokenTTL: envDuration("IMAGEPRO_TOKEN_TTL", 24*time.Hour),
			Disabled: os.Getenv("IMAGEPRO_AUTH_DISABLED") == "true",
		},
		Preview: PreviewConfig{MaxEdge: 256},
		Vendors: VendorsConfig{
			Timeout: Duration(60 * time.Second),
			Groq: GroqConfig{
				APIKey:  os.Getenv("GROQ_API_KEY"),
				BaseURL: "https://api.groq.com/openai/v1",
				Model:   "meta-llama/llama-4-scout-17b-16e-instruct",
			},
			RemoveBG: RemoveBGConfig{
				APIKey:  os.Getenv("REMOVEBG_API_KEY"),
				BaseURL: "https://api.remove.bg/v1.0",
			},
			Replicate: ReplicateConfig{
				APIToken:       os.Getenv("REPLICATE_API_TOKEN"),
				BaseURL:        "https://api.replicate.com/v1",
				UpscaleVersion: "f121d640bd286e1fdc67f9799164c1d5be36ff74576ee11c803ae5b665dd46aa",
				FaceVersion:    "0fbacf7afc6c144e5be9767cff80f25aff23e52b0708f17e20f9879b2f21516c",
				PollInterval:   Duration(time.Second),
			},
			Gradio: GradioConfig{
				SpaceURL: os.Getenv("IMAGEPRO_GRADIO_SPACE"),
				Endpoint: "image",
				Token:    os.Getenv("HF_TOKEN"),
			},
		},
	}
	return c
}

// Load returns the defaults overlaid with the file at path. The format is
// chosen by extension: .yaml/.yml or .toml.
func Load(path string) (*Config, error) {
	c := DefaultConfig()
	if path == "" {
		return c, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("failed to parse config yaml: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("failed to parse config toml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}

	if c.History.Capacity <= 0 {
		c.History.Capacity = history.DefaultCapacity
	}
	return c, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func envDuration(key string, fallback time.Duration) Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil || v <= 0 {
		return Duration(fallback)
	}
	return Duration(v)
}
