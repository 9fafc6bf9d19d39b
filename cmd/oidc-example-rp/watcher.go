package main

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

const defaultDebounce = 500 * time.Millisecond

// watchFile calls callback when path changes, once writes have settled for
// debounce. The directory is watched, as editors often replace files rather
// than write them.
func watchFile(path string, debounce time.Duration, callback func(), logger logrus.FieldLogger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return err
	}

	reload := make(chan struct{})
	go scheduleReload(reload, debounce, callback)
	go handleWatcher(watcher, filepath.Clean(path), reload, logger)
	return nil
}

func handleWatcher(watcher *fsnotify.Watcher, path string, reload chan<- struct{}, logger logrus.FieldLogger) {
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				reload <- struct{}{}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.WithError(err).Warn("config watcher error")
		}
	}
}

func scheduleReload(reload <-chan struct{}, debounce time.Duration, callback func()) {
	var (
		timer *time.Timer
		c     <-chan time.Time
	)
	for {
		select {
		case <-reload:
			if timer != nil {
				timer.Reset(debounce)
			} else {
				timer = time.NewTimer(debounce)
				c = timer.C
			}
		case <-c:
			c = nil
			timer = nil
			callback()
		}
	}
}
