// Package config is the read-only configuration store external collaborator:
// a hierarchical tree rooted at "apps/<name>", with "apps/<name>/startManual"
// governing AutoStart. Grounded on the teacher's internal/config (viper +
// mapstructure loading), trimmed to the tree shape the Supervisor core reads.
package config

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/loykin/appsupervisor/internal/process"
)

// AppConfig is the per-app leaf the Lifecycle Engine and the default App
// implementation read to build a worker process.
type AppConfig struct {
	Command     string                 `mapstructure:"command"`
	WorkDir     string                 `mapstructure:"workdir"`
	Env         []string               `mapstructure:"env"`
	PIDFile     string                 `mapstructure:"pidfile"`
	StartManual bool                   `mapstructure:"start_manual"`
	Lifecycle   process.LifecycleHooks `mapstructure:"lifecycle"`
}

type LogConfig struct {
	Dir        string `mapstructure:"dir"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

type ServerConfig struct {
	Listen   string `mapstructure:"listen"`
	BasePath string `mapstructure:"base_path"`
}

type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

type fileConfig struct {
	InstallDir string               `mapstructure:"install_dir"`
	Log        *LogConfig           `mapstructure:"log"`
	Metrics    *MetricsConfig       `mapstructure:"metrics"`
	Server     *ServerConfig        `mapstructure:"server"`
	History    *HistoryConfig       `mapstructure:"history"`
	Apps       map[string]AppConfig `mapstructure:"apps"`
}

// Store is the configuration-store capability the Supervisor core consumes.
// All reads are hierarchical transactions over an installed-apps tree; the
// core never writes through this interface.
type Store interface {
	HasApp(name string) bool
	StartManual(name string) bool
	AppNames() []string
	AppSpec(name string) (AppConfig, bool)
	InstallDir() string
}

// ViperStore backs Store with a viper-loaded file (YAML/TOML/JSON, whichever
// viper detects from the extension).
type ViperStore struct {
	mu      sync.RWMutex
	cfg     fileConfig
	Log     *LogConfig
	Metrics *MetricsConfig
	Server  *ServerConfig
	History *HistoryConfig
}

// Load reads configPath into a ViperStore.
func Load(configPath string) (*ViperStore, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var raw map[string]any
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg, err := decodeTo[fileConfig](raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	s := &ViperStore{cfg: cfg, Log: cfg.Log, Metrics: cfg.Metrics, Server: cfg.Server, History: cfg.History}
	return s, nil
}

// decodeTo decodes a map[string]any into T using mapstructure with weak typing,
// the same helper shape the teacher's internal/config uses for its discriminated
// process/cronjob entries.
func decodeTo[T any](m map[string]any) (T, error) {
	var out T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		Result:           &out,
	})
	if err != nil {
		return out, err
	}
	if err := dec.Decode(m); err != nil {
		return out, err
	}
	return out, nil
}

func (s *ViperStore) HasApp(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.cfg.Apps[name]
	return ok
}

func (s *ViperStore) StartManual(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.cfg.Apps[name]
	return ok && a.StartManual
}

func (s *ViperStore) AppNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.cfg.Apps))
	for n := range s.cfg.Apps {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (s *ViperStore) AppSpec(name string) (AppConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.cfg.Apps[name]
	return a, ok
}

func (s *ViperStore) InstallDir() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cfg.InstallDir == "" {
		return "."
	}
	return s.cfg.InstallDir
}

// StaticStore is an in-memory Store for tests and embedding without a file on
// disk.
type StaticStore struct {
	Dir  string
	Apps map[string]AppConfig
}

func (s *StaticStore) HasApp(name string) bool {
	_, ok := s.Apps[name]
	return ok
}

func (s *StaticStore) StartManual(name string) bool {
	a, ok := s.Apps[name]
	return ok && a.StartManual
}

func (s *StaticStore) AppNames() []string {
	names := make([]string, 0, len(s.Apps))
	for n := range s.Apps {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (s *StaticStore) AppSpec(name string) (AppConfig, bool) {
	a, ok := s.Apps[name]
	return a, ok
}

func (s *StaticStore) InstallDir() string {
	if s.Dir == "" {
		return "."
	}
	return s.Dir
}

// SplitEnvLine splits a single KEY=VALUE line; used by the Supervisor's
// info.properties reader.
func SplitEnvLine(kv string) (key, value string, ok bool) {
	i := strings.IndexByte(kv, '=')
	if i < 0 {
		return "", "", false
	}
	return kv[:i], kv[i+1:], true
}
