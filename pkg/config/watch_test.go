package config

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

func TestWatch_ReloadsOnChange(t *testing.T) {
	old := WatchDebounce
	WatchDebounce = 10 * time.Millisecond
	t.Cleanup(func() { WatchDebounce = old })

	path := writeFile(t, "chain.yaml", yamlChain)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type result struct {
		d   *Description
		err error
	}
	got := make(chan result, 16)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(d *Description, err error) {
			got <- result{d, err}
		})
	}()

	renamed := strings.Replace(yamlChain, "name: chain", "name: renamed", 1)
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case r := <-got:
			if r.err != nil {
				// caught a half-written file; the next write reloads again
				continue
			}
			if r.d.Name != "renamed" {
				t.Fatalf("expected reloaded name 'renamed', got %s", r.d.Name)
			}
			cancel()
			if err := <-done; err != nil {
				t.Errorf("expected clean shutdown, got %v", err)
			}
			return
		case <-tick.C:
			// the watcher may not be registered yet; keep writing
			if err := os.WriteFile(path, []byte(renamed), 0o644); err != nil {
				t.Fatalf("failed to write: %v", err)
			}
		case <-deadline:
			t.Fatal("timed out waiting for reload")
		}
	}
}

func TestWatch_ReportsLoadErrors(t *testing.T) {
	old := WatchDebounce
	WatchDebounce = 10 * time.Millisecond
	t.Cleanup(func() { WatchDebounce = old })

	path := writeFile(t, "chain.yaml", yamlChain)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errs := make(chan error, 16)
	go func() {
		_ = Watch(ctx, path, func(_ *Description, err error) { errs <- err })
	}()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case err := <-errs:
			if err == nil {
				t.Fatal("expected a load error for an invalid document")
			}
			return
		case <-tick.C:
			if err := os.WriteFile(path, []byte("name: [\n"), 0o644); err != nil {
				t.Fatalf("failed to write: %v", err)
			}
		case <-deadline:
			t.Fatal("timed out waiting for reload")
		}
	}
}

func TestWatch_MissingDirectory(t *testing.T) {
	if err := Watch(context.Background(), "/does/not/exist/chain.yaml", func(*Description, error) {}); err == nil {
		t.Error("expected error watching a missing directory")
	}
}
