// Package config loads the operator-tunable limits that otherwise sit
// hardwired inside the engine's own packages: gc sweep pacing,
// cursor/diff/query pack sizing, and the non-manual auto-commit debounce.
// Grounded on steveyegge-beads's cmd/bd/config.go +
// internal/config/yaml_config.go (a toml file read through viper,
// BD_-style env prefix overrides) with the fsnotify direct-watcher idiom
// cmd/bd/list.go uses for its own file-change polling, rather than
// viper's own (less explicit) WatchConfig callback.
package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EnvPrefix mirrors steveyegge-beads's own BEADS_ env-override convention.
const EnvPrefix = "DIFFBELT"

// Tunables makes operator-facing every knob that otherwise stays
// hardwired in its owning package: gc sweep pacing, cursor/pack sizing,
// and the non-manual auto-commit debounce.
type Tunables struct {
	GCRecordsLimit          int           `mapstructure:"gc_records_limit"`
	GCLookupsLimit          int           `mapstructure:"gc_lookups_limit"`
	MaxCursorsPerCollection int           `mapstructure:"max_cursors_per_collection"`
	AutoCommitDelay         time.Duration `mapstructure:"auto_commit_delay"`
	DiffChangesLimit        uint32        `mapstructure:"diff_changes_limit"`
	DiffPackLimit           int           `mapstructure:"diff_pack_limit"`
	DiffPackRecordsLimit    int           `mapstructure:"diff_pack_records_limit"`
}

// Defaults matches internal/database.fillDefaults and internal/gc.DefaultLimits:
// an operator who sets no config at all gets exactly the hardwired behavior
// those packages already fall back to on their own.
var Defaults = Tunables{
	GCRecordsLimit:          1000,
	GCLookupsLimit:          4000,
	MaxCursorsPerCollection: 16,
	AutoCommitDelay:         50 * time.Millisecond,
	DiffChangesLimit:        4096,
	DiffPackLimit:           1000,
	DiffPackRecordsLimit:    10000,
}

// Loader owns the viper instance and the current snapshot of Tunables,
// refreshed in place whenever the backing file changes on disk.
type Loader struct {
	v *viper.Viper

	mu      sync.RWMutex
	current Tunables

	onChange func(Tunables)
}

// Load reads path (a toml file; may not exist, in which case Defaults plus
// any env overrides apply) and starts watching it for changes. onChange,
// if non-nil, fires with the freshly parsed Tunables every time the file
// is rewritten.
func Load(path string, onChange func(Tunables)) (*Loader, error) {
	v := viper.New()
	v.SetConfigType("toml")
	if path != "" {
		v.SetConfigFile(path)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	setDefaults(v)

	l := &Loader{v: v, onChange: onChange}
	if err := l.reload(); err != nil {
		return nil, err
	}

	if path != "" {
		l.watch(path)
	}
	return l, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gc_records_limit", Defaults.GCRecordsLimit)
	v.SetDefault("gc_lookups_limit", Defaults.GCLookupsLimit)
	v.SetDefault("max_cursors_per_collection", Defaults.MaxCursorsPerCollection)
	v.SetDefault("auto_commit_delay", Defaults.AutoCommitDelay.String())
	v.SetDefault("diff_changes_limit", Defaults.DiffChangesLimit)
	v.SetDefault("diff_pack_limit", Defaults.DiffPackLimit)
	v.SetDefault("diff_pack_records_limit", Defaults.DiffPackRecordsLimit)
}

func (l *Loader) reload() error {
	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("config: reading tunables: %w", err)
		}
	}

	var t Tunables
	if err := l.v.Unmarshal(&t); err != nil {
		return fmt.Errorf("config: parsing tunables: %w", err)
	}

	l.mu.Lock()
	l.current = t
	l.mu.Unlock()
	return nil
}

// watch runs a single-goroutine fsnotify loop over path's directory,
// re-reading on every write event and debouncing bursty editors the same
// way cmd/bd/list.go's own file watcher does.
func (l *Loader) watch(path string) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return
	}
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return
	}

	go func() {
		defer func() { _ = watcher.Close() }()
		var debounce *time.Timer
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != filepath.Base(path) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(100*time.Millisecond, func() {
					if err := l.reload(); err == nil && l.onChange != nil {
						l.onChange(l.Current())
					}
				})
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
}

// Current returns the most recently loaded Tunables snapshot.
func (l *Loader) Current() Tunables {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}
