package config

import (
	"context"
	"fmt"
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
		defaultVal := ""
		if len(submatch) >= 3 {
			defaultVal = submatch[2]
		}
		if val, ok := os.LookupEnv(submatch[1]); ok {
			return val
		}
		return defaultVal
	})
}

// LoadFile reads a YAML file, expands env vars, and unmarshals into dest.
func LoadFile(path string, dest any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	expanded := expandEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(expanded), dest); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Loader owns the current gateway.yaml and models.yaml snapshots and swaps them
// when the files change on disk.
type Loader struct {
	configDir string
	mu        sync.RWMutex
	cfg       *Config
	models    *ModelsConfig
	watchers  []func()
	logger    *slog.Logger
}

func NewLoader(configDir string, logger *slog.Logger) *Loader {
	return &Loader{
		configDir: configDir,
		logger:    logger,
	}
}

// Load reads both files and validates the result. On error the previous
// snapshot stays in place.
func (l *Loader) Load() error {
	cfg := DefaultConfig()
	if err := LoadFile(filepath.Join(l.configDir, "gateway.yaml"), cfg); err != nil {
		return fmt.Errorf("load gateway config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid gateway config: %w", err)
	}

	models := DefaultModels()
	if err := LoadFile(filepath.Join(l.configDir, "models.yaml"), models); err != nil {
		return fmt.Errorf("load models config: %w", err)
	}

	l.mu.Lock()
	l.cfg = cfg
	l.models = models
	l.mu.Unlock()

	l.log().Info("configuration loaded",
		"dir", l.configDir,
		"upstream", cfg.Upstream.URL,
		"default_model", models.DefaultModel,
		"supported_models", len(models.Supported),
	)
	return nil
}

// SetLogger replaces the logger used for reload messages.
func (l *Loader) SetLogger(logger *slog.Logger) {
	l.mu.Lock()
	l.logger = logger
	l.mu.Unlock()
}

func (l *Loader) log() *slog.Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.logger
}

func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

func (l *Loader) Models() *ModelsConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.models
}

// Conversation returns the live conversation policy.
func (l *Loader) Conversation() ConversationConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.cfg == nil {
		return ConversationConfig{}
	}
	return l.cfg.Conversation
}

// OnReload registers a callback that fires after config is reloaded.
func (l *Loader) OnReload(fn func()) {
	l.mu.Lock()
	l.watchers = append(l.watchers, fn)
	l.mu.Unlock()
}

func (l *Loader) reload(name string) {
	l.log().Info("config file changed, reloading", "file", name)
	if err := l.Load(); err != nil {
		l.log().Error("failed to reload config", "error", err)
		return
	}
	l.mu.RLock()
	fns := append([]func(){}, l.watchers...)
	l.mu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}

// Watch reloads on writes to the config directory until ctx is done.
// Settings bound at startup (listen address, upstream transport) keep their
// original values; the model list and conversation policy take effect live.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(l.configDir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch config dir %s: %w", l.configDir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Ext(event.Name) != ".yaml" {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					l.reload(event.Name)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.log().Error("fsnotify error", "error", err)
			}
		}
	}()

	return nil
}
