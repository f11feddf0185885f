package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestIgnoreEvent(t *testing.T) {
	root := "/src/apod-wallpaper"
	tests := []struct {
		path string
		want bool
	}{
		{"/src/apod-wallpaper/src/main.rs", false},
		{"/src/apod-wallpaper/Cargo.toml", false},
		{"/src/apod-wallpaper/src/.main.rs.swp", true},
		{"/src/apod-wallpaper/src/main.rs~", true},
		{"/src/apod-wallpaper/#Cargo.toml#", true},
		{"/src/apod-wallpaper/target/release/apod-wallpaper", true},
		{"/src/apod-wallpaper/.git/index", true},
		{"/src/apod-wallpaper/out/packages/cli/bin/apod-wallpaper", true},
		{"/src/apod-wallpaper/out", true},
		{"/src/apod-wallpaper/outline.md", false},
	}
	for _, tt := range tests {
		if got := ignoreEvent(root, tt.path, []string{"out"}); got != tt.want {
			t.Errorf("ignoreEvent(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestWatchRebuildsOnChange(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "src"), 0o755); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var rebuilds atomic.Int32
	rebuilt := make(chan struct{}, 8)
	errc := make(chan error, 1)
	go func() {
		errc <- Watch(ctx, root, nil, 20*time.Millisecond, func(context.Context) error {
			rebuilds.Add(1)
			select {
			case rebuilt <- struct{}{}:
			default:
			}
			return nil
		})
	}()

	// Keep touching a file until the watcher has registered and fires.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-rebuilt:
			cancel()
			if err := <-errc; err != nil {
				t.Fatalf("Watch failed: %v", err)
			}
			if rebuilds.Load() < 1 {
				t.Fatal("no rebuild recorded")
			}
			return
		case <-tick.C:
			name := filepath.Join(root, "src", "main.rs")
			if err := os.WriteFile(name, []byte("fn main() {}\n"), 0o644); err != nil {
				t.Fatal(err)
			}
		case <-deadline:
			t.Fatal("no rebuild within 5s")
		}
	}
}
