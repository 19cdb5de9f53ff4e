package config_test

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/artpar/tutorquota/config"
	"github.com/rs/zerolog"
)

func TestHolder_Get(t *testing.T) {
	h, err := config.NewHolder(writeConfig(t, validConfig()), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	got := h.Get()
	if got == nil {
		t.Fatal("Get returned nil")
	}
	if got.Upstream.Model != "llama3" {
		t.Errorf("Upstream.Model = %s, want llama3", got.Upstream.Model)
	}
}

func TestHolder_Reload(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	if got := h.Get().Quota.Plans["free"]["chat_request"]; got != 5 {
		t.Errorf("initial free chat_request = %d, want 5", got)
	}

	newContent := `
quota:
  plans:
    free:
      chat_request: 8
`
	if err := os.WriteFile(path, []byte(newContent), 0644); err != nil {
		t.Fatalf("write new config: %v", err)
	}

	if err := h.Reload(); err != nil {
		t.Fatalf("Reload error: %v", err)
	}

	if got := h.Get().Quota.Plans["free"]["chat_request"]; got != 8 {
		t.Errorf("reloaded free chat_request = %d, want 8", got)
	}
}

func TestHolder_OnChange(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	var called int
	var got *config.Config
	h.OnChange(func(c *config.Config) {
		called++
		got = c
	})

	if err := h.Reload(); err != nil {
		t.Fatalf("Reload error: %v", err)
	}

	if called != 1 {
		t.Errorf("OnChange called %d times, want 1", called)
	}
	if got != h.Get() {
		t.Error("OnChange received a different config than Get returns")
	}
}

func TestHolder_ListenerRegistersListener(t *testing.T) {
	h, err := config.NewHolder(writeConfig(t, validConfig()), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	var outer, inner int
	h.OnChange(func(*config.Config) {
		outer++
		h.OnChange(func(*config.Config) { inner++ })
	})

	for i := 0; i < 2; i++ {
		if err := h.Reload(); err != nil {
			t.Fatalf("Reload error: %v", err)
		}
	}

	// Listeners added during a reload run from the next reload on.
	if outer != 2 || inner != 1 {
		t.Errorf("outer/inner calls = %d/%d, want 2/1", outer, inner)
	}
}

func TestHolder_ReloadInvalidKeepsOld(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	var reloadErr error
	h.OnError(func(err error) { reloadErr = err })
	h.OnChange(func(*config.Config) { t.Error("OnChange must not fire for an invalid config") })

	if err := os.WriteFile(path, []byte("logging:\n  level: loud\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if err := h.Reload(); err == nil {
		t.Fatal("expected reload error")
	}
	if reloadErr == nil {
		t.Error("OnError was not called")
	}
	if h.Get().Upstream.Model != "llama3" {
		t.Error("old config was not kept")
	}
}

func TestHolder_WatchFile(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	changed := make(chan *config.Config, 4)
	h.OnChange(func(c *config.Config) { changed <- c })

	if err := h.WatchFile(); err != nil {
		t.Fatalf("WatchFile error: %v", err)
	}

	content := `
upstream:
  model: "tutor-large"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-changed:
			if c.Upstream.Model == "tutor-large" {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for file watch reload")
		}
	}
}

func TestHolder_ConcurrentGetAndReload(t *testing.T) {
	h, err := config.NewHolder(writeConfig(t, validConfig()), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = h.Get().Quota.DefaultPlan
			}
		}()
		go func() {
			defer wg.Done()
			_ = h.Reload()
		}()
	}
	wg.Wait()
}

func TestHolder_StaticReloadFails(t *testing.T) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv error: %v", err)
	}
	h := config.NewStaticHolder(cfg, zerolog.Nop())
	defer h.Stop()
	h.Stop()

	if err := h.Reload(); err == nil {
		t.Error("expected error reloading a static holder")
	}
	if err := h.WatchFile(); err != nil {
		t.Errorf("WatchFile on static holder = %v, want nil", err)
	}
}

func TestReloadableFieldsDisjoint(t *testing.T) {
	seen := make(map[string]bool)
	for _, f := range config.ReloadableFields() {
		seen[f] = true
	}
	for _, f := range config.NonReloadableFields() {
		if seen[f] {
			t.Errorf("%s listed as both reloadable and non-reloadable", f)
		}
	}
}
