package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/fyrsmithlabs/ragd/internal/embeddings"
	"github.com/fyrsmithlabs/ragd/internal/errdefs"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "RAGD_"
)

// DefaultPath returns ~/.config/ragd/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "ragd", "config.yaml"), nil
}

// Load reads configuration from a YAML file and the environment.
//
// Precedence (highest to lowest):
//  1. RAGD_* environment variables (RAGD_SERVER_HTTP_PORT -> server.http_port)
//  2. The YAML file
//  3. Default()
//
// A .env file in the working directory is loaded into the environment first
// without overriding variables that are already set. OPENAI_API_KEY fills the
// OpenAI keys when they are not configured.
//
// An empty path uses DefaultPath, which may be absent. An explicit path must
// exist. Files larger than 1MB or writable by other users are rejected.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, errdefs.Configuration("loading .env: %v", err)
	}

	k := koanf.New(".")

	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	content, err := readConfigFile(path)
	switch {
	case err == nil:
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, errdefs.Configuration("parsing config file %s: %v", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, err
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, errdefs.Configuration("loading environment variables: %v", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errdefs.Configuration("decoding config: %v", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps RAGD_SECTION_FIELD_NAME to section.field_name. Only the first
// underscore after the prefix separates the section.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, ok := strings.Cut(lower, "_")
	if !ok {
		return lower
	}
	return section + "." + field
}

// readConfigFile opens the file once and validates it through the open
// descriptor.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		return nil, errdefs.Configuration("opening config file: %v", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errdefs.Configuration("stat config file: %v", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, err
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, errdefs.Configuration("reading config file: %v", err)
	}
	return content, nil
}

// validateConfigFileProperties rejects oversized or world-writable files.
func validateConfigFileProperties(info os.FileInfo) error {
	if info.IsDir() {
		return errdefs.Configuration("config path %s is a directory", info.Name())
	}
	if runtime.GOOS != "windows" {
		if perm := info.Mode().Perm(); perm&0o002 != 0 {
			return errdefs.Configuration("insecure config file permissions: %v (world-writable)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return errdefs.Configuration("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

// applyDefaults fills values that depend on other settings.
func applyDefaults(cfg *Config) {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if !cfg.LLM.OpenAIAPIKey.IsSet() {
			cfg.LLM.OpenAIAPIKey = Secret(key)
		}
		if !cfg.Embeddings.OpenAIAPIKey.IsSet() {
			cfg.Embeddings.OpenAIAPIKey = Secret(key)
		}
	}

	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = embeddings.DefaultModel(cfg.Embeddings.Provider)
	}
	if cfg.Embeddings.Dimension == 0 {
		if dim, ok := embeddings.KnownDimension(cfg.Embeddings.Model); ok {
			cfg.Embeddings.Dimension = dim
		}
	}

	// A list from the environment arrives as one comma-separated element.
	var origins []string
	for _, o := range cfg.Server.CORSOrigins {
		for _, part := range strings.Split(o, ",") {
			if part = strings.TrimSpace(part); part != "" {
				origins = append(origins, part)
			}
		}
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	cfg.Server.CORSOrigins = origins

	cfg.Documents.Path = expandHome(cfg.Documents.Path)
	cfg.VectorStore.Path = expandHome(cfg.VectorStore.Path)
	cfg.Embeddings.CacheDir = expandHome(cfg.Embeddings.CacheDir)
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// EnsureDirectories creates the documents directory and, for the embedded
// store, the vector store directory. Directories get 0700 permissions.
func EnsureDirectories(cfg *Config) error {
	dirs := []string{cfg.Documents.Path}
	if cfg.VectorStore.Provider == "chromem" {
		dirs = append(dirs, cfg.VectorStore.Path)
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
