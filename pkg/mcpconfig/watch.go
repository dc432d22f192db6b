package mcpconfig

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vikashloomba/mcp-toolserver-manager-go/pkg/mcpmgr"
)

const watchDebounce = 200 * time.Millisecond

// Watch reloads the config file at path whenever it is created or written
// and passes the result to onChange. Parse failures and watcher errors go to
// onError, which may be nil. Calls to onChange never overlap and follow
// the order of the writes. Editors that replace the file by rename are
// handled by watching the parent directory. Watch blocks until ctx is
// cancelled.
func Watch(ctx context.Context, path string, onChange func(mcpmgr.GlobalConfig), onError func(error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return err
	}

	report := func(err error) {
		if onError != nil {
			onError(err)
		}
	}

	// Reloads run on this goroutine so a slow onChange delays the next
	// reload instead of racing it.
	reload := make(chan struct{}, 1)
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if debounce == nil {
				debounce = time.AfterFunc(watchDebounce, func() {
					select {
					case reload <- struct{}{}:
					default:
					}
				})
			} else {
				debounce.Reset(watchDebounce)
			}

		case <-reload:
			cfg, err := Load(target)
			if err != nil {
				report(err)
				continue
			}
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			report(err)
		}
	}
}
