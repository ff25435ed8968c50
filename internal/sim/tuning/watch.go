package tuning

import (
	"context"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 250 * time.Millisecond

// Watch reloads path whenever it changes and hands each successfully loaded
// config to onReload. The parent directory is watched so editors that
// replace the file by rename are seen too. Watch returns once the watcher is
// running; it stops when ctx is done.
func Watch(ctx context.Context, path string, logger *log.Logger, onReload func(Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		_ = watcher.Close()
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return err
	}
	name := filepath.Base(abs)

	go func() {
		defer watcher.Close()
		var timer *time.Timer
		var timerCh <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != name {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(reloadDebounce)
				} else {
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
					timer.Reset(reloadDebounce)
				}
				timerCh = timer.C
			case <-timerCh:
				timerCh = nil
				cfg, err := Load(abs)
				if err != nil {
					logger.Printf("config reload: %v (keeping previous config)", err)
					continue
				}
				for _, w := range cfg.Warnings {
					logger.Printf("config: %s", w)
				}
				onReload(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Printf("config watcher: %v", err)
			}
		}
	}()
	return nil
}
