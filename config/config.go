package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"chumtheme/model"
)

// FileName is the config file kept in the data directory.
const FileName = "chumtheme.config"

type Config struct {
	DataDir    string               `json:"data_dir"`
	ListenAddr string               `json:"listen_addr"`
	ThemesDir  string               `json:"themes_dir,omitempty"`
	AssetRoot  string               `json:"asset_root"`
	RepoURL    string               `json:"repo_url,omitempty"`
	Watch      bool                 `json:"watch"`
	Schedules  []model.Schedule     `json:"schedules,omitempty"`
	LastRun    map[string]time.Time `json:"last_run,omitempty"`
	Debug      bool                 `json:"-"`
}

func Default() Config {
	return Config{
		DataDir:    ".",
		ListenAddr: ":8095",
		AssetRoot:  "themes",
		Watch:      true,
		Schedules:  nil,
		LastRun:    make(map[string]time.Time),
		Debug:      parseBoolEnv("CHUMTHEME_DEBUG"),
	}
}

// ThemesPath returns the on-disk themes directory: ThemesDir when set,
// otherwise <DataDir>/themes.
func (c Config) ThemesPath() string {
	if c.ThemesDir != "" {
		return c.ThemesDir
	}
	return filepath.Join(c.DataDir, "themes")
}

func Load(dataDir string) (Config, error) {
	cfgPath := filepath.Join(dataDir, FileName)

	f, err := os.Open(cfgPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := Default()
			cfg.DataDir = dataDir
			return cfg, nil
		}
		return Config{}, err
	}
	defer f.Close()

	var cfg Config
	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		return Config{}, err
	}

	def := Default()
	if cfg.DataDir == "" {
		cfg.DataDir = dataDir
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = def.ListenAddr
	}
	if cfg.AssetRoot == "" {
		cfg.AssetRoot = def.AssetRoot
	}
	if cfg.LastRun == nil {
		cfg.LastRun = make(map[string]time.Time)
	}
	cfg.Debug = def.Debug

	return cfg, nil
}

func Save(cfg Config) error {
	cfgPath := filepath.Join(cfg.DataDir, FileName)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return err
	}

	tmp := cfgPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(cfg); err != nil {
		os.Remove(tmp)
		return err
	}

	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	return os.Rename(tmp, cfgPath)
}

func parseBoolEnv(name string) bool {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
