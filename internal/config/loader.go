package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:default} patterns in a string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		submatch := envVarPattern.FindStringSubmatch(match)
		if len(submatch) < 2 {
			return match
		}
		if val, ok := os.LookupEnv(submatch[1]); ok {
			return val
		}
		if len(submatch) >= 3 {
			return submatch[2]
		}
		return ""
	})
}

// LoadYAML reads a YAML file, expands env vars, and unmarshals into dest.
func LoadYAML(path string, dest interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), dest); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Loader owns the operator config (YAML) and the admin-mutable state files
// (JSON), with fsnotify hot reload and serialized, atomic writes.
type Loader struct {
	configDir string // operator YAML
	stateDir  string // admin JSON state

	mu       sync.RWMutex
	cfg      *Config
	system   *SystemConfig
	models   *ModelSettings
	watchers []func()
	logger   *slog.Logger
}

func NewLoader(configDir, stateDir string, logger *slog.Logger) *Loader {
	return &Loader{
		configDir: configDir,
		stateDir:  stateDir,
		logger:    logger,
	}
}

// Load merges, lowest to highest precedence: built-in defaults, file
// contents, environment variables. A malformed or missing state file is
// logged and replaced by defaults rather than failing startup.
func (l *Loader) Load() error {
	cfg := DefaultConfig()
	if err := LoadYAML(filepath.Join(l.configDir, "gateway.yaml"), cfg); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load gateway config: %w", err)
		}
		l.logger.Warn("gateway.yaml not found, using defaults")
	}

	system := DefaultSystemConfig()
	l.loadJSON(filepath.Join(l.stateDir, "system_config.json"), system)
	system.applyEnv()
	if err := system.Validate(); err != nil {
		l.logger.Error("invalid system config, reverting to defaults", "error", err)
		system = DefaultSystemConfig()
		system.applyEnv()
	}

	models := DefaultModelSettings()
	l.loadJSON(filepath.Join(l.stateDir, "model_settings.json"), models)
	models.applyEnv()
	if err := models.Validate(); err != nil {
		l.logger.Error("invalid model settings, reverting to defaults", "error", err)
		models = DefaultModelSettings()
		models.applyEnv()
	}

	l.mu.Lock()
	l.cfg = cfg
	l.system = system
	l.models = models
	l.mu.Unlock()

	l.logger.Info("configuration loaded", "config_dir", l.configDir, "state_dir", l.stateDir)
	return nil
}

func (l *Loader) loadJSON(path string, dest interface{}) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			l.logger.Warn("cannot read state file, using defaults", "file", path, "error", err)
		}
		return
	}
	if err := json.Unmarshal(data, dest); err != nil {
		l.logger.Error("malformed state file, continuing with defaults", "file", path, "error", err)
	}
}

func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

func (l *Loader) System() *SystemConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.system
}

func (l *Loader) Models() *ModelSettings {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.models
}

// CachingFor resolves the effective caching config for a provider/model
// pair via the fixed override chain global → provider → model. Either
// argument may be empty. Idempotent while the config is unchanged.
func (l *Loader) CachingFor(provider, model string) CachingConfig {
	l.mu.RLock()
	system := l.system
	models := l.models
	l.mu.RUnlock()

	out := system.Caching
	if provider != "" {
		if p, ok := system.Providers[provider]; ok {
			out = p.Caching.Apply(out)
		}
	}
	if model != "" {
		if mc, ok := models.Models[model]; ok {
			out = mc.Caching.Apply(out)
		}
	}
	return out
}

// UpdateSystem applies fn to a copy of the system config, validates it,
// and persists the result atomically. Concurrent admin writes serialize
// here instead of clobbering each other on disk.
func (l *Loader) UpdateSystem(fn func(*SystemConfig) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	clone, err := cloneJSON(l.system)
	if err != nil {
		return err
	}
	if err := fn(clone); err != nil {
		return err
	}
	if err := clone.Validate(); err != nil {
		return err
	}
	if err := writeJSONAtomic(filepath.Join(l.stateDir, "system_config.json"), clone); err != nil {
		return err
	}
	l.system = clone
	return nil
}

// UpdateModels is the counterpart of UpdateSystem for model settings.
func (l *Loader) UpdateModels(fn func(*ModelSettings) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	clone, err := cloneJSON(l.models)
	if err != nil {
		return err
	}
	if err := fn(clone); err != nil {
		return err
	}
	if err := clone.Validate(); err != nil {
		return err
	}
	if err := writeJSONAtomic(filepath.Join(l.stateDir, "model_settings.json"), clone); err != nil {
		return err
	}
	l.models = clone
	return nil
}

func cloneJSON[T any](src *T) (*T, error) {
	data, err := json.Marshal(src)
	if err != nil {
		return nil, fmt.Errorf("clone config: %w", err)
	}
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("clone config: %w", err)
	}
	return out, nil
}

func writeJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// OnReload registers a callback that fires after config is reloaded.
func (l *Loader) OnReload(fn func()) {
	l.watchers = append(l.watchers, fn)
}

// Watch reloads on changes to either directory.
func (l *Loader) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	for _, dir := range []string{l.configDir, l.stateDir} {
		if err := watcher.Add(dir); err != nil {
			l.logger.Warn("cannot watch directory", "dir", dir, "error", err)
		}
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Ext(event.Name) == ".tmp" {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
					l.logger.Info("config file changed, reloading", "file", event.Name)
					if err := l.Load(); err != nil {
						l.logger.Error("failed to reload config", "error", err)
						continue
					}
					for _, fn := range l.watchers {
						fn()
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.logger.Error("fsnotify error", "error", err)
			}
		}
	}()

	return nil
}
