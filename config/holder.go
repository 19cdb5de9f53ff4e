package config

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// reloadDebounce coalesces the burst of events editors emit for one save.
const reloadDebounce = 100 * time.Millisecond

// Holder serves the current configuration and swaps it on reload. Readers
// never block; a failed reload keeps the previous configuration.
type Holder struct {
	current atomic.Pointer[Config]
	path    string // absolute; empty for a static holder
	logger  zerolog.Logger

	mu       sync.Mutex // guards listeners and watcher
	onChange []func(*Config)
	onError  []func(error)
	watcher  *fsnotify.Watcher

	reloadMu sync.Mutex // serialises Reload
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewHolder loads path and returns a holder that can reload it.
func NewHolder(path string, logger zerolog.Logger) (*Holder, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	cfg, err := Load(abs)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	h := &Holder{path: abs, logger: logger, stopCh: make(chan struct{})}
	h.current.Store(cfg)
	return h, nil
}

// NewStaticHolder wraps a configuration that has no file behind it, such as
// one read from the environment. Reload always fails.
func NewStaticHolder(cfg *Config, logger zerolog.Logger) *Holder {
	h := &Holder{logger: logger, stopCh: make(chan struct{})}
	h.current.Store(cfg)
	return h
}

// Get returns the current configuration. The returned value must not be
// modified.
func (h *Holder) Get() *Config {
	return h.current.Load()
}

// Path returns the watched file, or "" for a static holder.
func (h *Holder) Path() string {
	return h.path
}

// OnChange registers fn to run after every successful reload.
func (h *Holder) OnChange(fn func(*Config)) {
	h.mu.Lock()
	h.onChange = append(h.onChange, fn)
	h.mu.Unlock()
}

// OnError registers fn to run after every failed reload.
func (h *Holder) OnError(fn func(error)) {
	h.mu.Lock()
	h.onError = append(h.onError, fn)
	h.mu.Unlock()
}

// Reload re-reads the file. On error the current configuration is kept and
// the OnError callbacks run.
func (h *Holder) Reload() error {
	if h.path == "" {
		return errors.New("reload config: no config file")
	}

	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()

	next, err := Load(h.path)
	if err != nil {
		err = fmt.Errorf("reload config: %w", err)
		h.logger.Error().Err(err).Str("path", h.path).Msg("config reload failed, keeping current config")
		for _, fn := range h.errorListeners() {
			fn(err)
		}
		return err
	}

	prev := h.current.Swap(next)
	h.logChanges(prev, next)

	for _, fn := range h.changeListeners() {
		fn(next)
	}
	return nil
}

func (h *Holder) changeListeners() []func(*Config) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.onChange)
}

func (h *Holder) errorListeners() []func(error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.onError)
}

// WatchFile reloads whenever the file is written or replaced. It watches the
// parent directory so atomic rename-on-save is seen. A static holder has
// nothing to watch and returns nil.
func (h *Holder) WatchFile() error {
	if h.path == "" {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(h.path)); err != nil {
		w.Close()
		return fmt.Errorf("watch directory: %w", err)
	}

	h.mu.Lock()
	h.watcher = w
	h.mu.Unlock()

	go h.watch(w)

	h.logger.Info().Str("path", h.path).Msg("watching config file for changes")
	return nil
}

func (h *Holder) watch(w *fsnotify.Watcher) {
	name := filepath.Base(h.path)
	var pending *time.Timer

	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != name || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			h.logger.Debug().Str("event", ev.Op.String()).Msg("config file changed")
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(reloadDebounce, func() {
				select {
				case <-h.stopCh:
				default:
					h.Reload()
				}
			})

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).Msg("config watcher error")

		case <-h.stopCh:
			if pending != nil {
				pending.Stop()
			}
			return
		}
	}
}

// WatchSignals reloads on SIGHUP until Stop is called.
func (h *Holder) WatchSignals() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP)

	go func() {
		defer signal.Stop(sig)
		for {
			select {
			case <-sig:
				h.logger.Info().Msg("received SIGHUP, reloading config")
				h.Reload()
			case <-h.stopCh:
				return
			}
		}
	}()
}

// Stop ends file and signal watching. It is safe to call more than once.
func (h *Holder) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		h.mu.Lock()
		if h.watcher != nil {
			h.watcher.Close()
		}
		h.mu.Unlock()
	})
}

type fieldChange struct {
	field    string
	old, new any
}

// diff reports reloadable and restart-only fields that differ.
func diff(old, new *Config) (applied, needsRestart []fieldChange) {
	add := func(list *[]fieldChange, field string, o, n any) {
		if !reflect.DeepEqual(o, n) {
			*list = append(*list, fieldChange{field, o, n})
		}
	}

	add(&applied, "quota.plans", old.Quota.Plans, new.Quota.Plans)
	add(&applied, "quota.default_plan", old.Quota.DefaultPlan, new.Quota.DefaultPlan)
	add(&applied, "quota.fail_open", old.Quota.FailOpen, new.Quota.FailOpen)
	add(&applied, "upstream.model", old.Upstream.Model, new.Upstream.Model)
	add(&applied, "upstream.temperature", old.Upstream.Temperature, new.Upstream.Temperature)
	add(&applied, "upstream.top_p", old.Upstream.TopP, new.Upstream.TopP)
	add(&applied, "upstream.presence_penalty", old.Upstream.PresencePenalty, new.Upstream.PresencePenalty)
	add(&applied, "upstream.frequency_penalty", old.Upstream.FrequencyPenalty, new.Upstream.FrequencyPenalty)
	add(&applied, "upstream.max_tokens", old.Upstream.MaxTokens, new.Upstream.MaxTokens)
	add(&applied, "logging.level", old.Logging.Level, new.Logging.Level)

	add(&needsRestart, "server.host", old.Server.Host, new.Server.Host)
	add(&needsRestart, "server.port", old.Server.Port, new.Server.Port)
	add(&needsRestart, "database", old.Database, new.Database)
	add(&needsRestart, "quota.store_timeout", old.Quota.StoreTimeout, new.Quota.StoreTimeout)
	add(&needsRestart, "session.cookie_name", old.Session.CookieName, new.Session.CookieName)
	add(&needsRestart, "upstream.base_url", old.Upstream.BaseURL, new.Upstream.BaseURL)
	add(&needsRestart, "upstream.api_key", old.Upstream.APIKey != "", new.Upstream.APIKey != "")
	add(&needsRestart, "retention", old.Retention, new.Retention)
	add(&needsRestart, "metrics", old.Metrics, new.Metrics)
	return applied, needsRestart
}

func (h *Holder) logChanges(old, new *Config) {
	applied, restart := diff(old, new)
	for _, c := range applied {
		h.logger.Info().Str("field", c.field).Interface("old", c.old).Interface("new", c.new).Msg("config field changed")
	}
	for _, c := range restart {
		h.logger.Warn().Str("field", c.field).Msg("field changed but requires a restart")
	}
	h.logger.Info().Int("changed", len(applied)).Msg("configuration reloaded")
}

// ReloadableFields lists the settings that take effect without a restart.
func ReloadableFields() []string {
	return []string{
		"quota.plans",
		"quota.default_plan",
		"quota.fail_open",
		"upstream.model",
		"upstream.temperature",
		"upstream.top_p",
		"upstream.presence_penalty",
		"upstream.frequency_penalty",
		"upstream.max_tokens",
		"logging.level",
	}
}

// NonReloadableFields lists the settings that need a restart.
func NonReloadableFields() []string {
	return []string{
		"server.host",
		"server.port",
		"database.driver",
		"database.dsn",
		"quota.store_timeout",
		"session.cookie_name",
		"upstream.base_url",
		"upstream.api_key",
		"retention",
		"metrics",
	}
}
