package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the default delay between the last change event and
// the reload.
const DefaultDebounce = 250 * time.Millisecond

// Watcher reloads a configuration file when it changes.
type Watcher struct {
	watcher  *fsnotify.Watcher
	path     string
	debounce time.Duration
	onReload func(Config)
	onError  func(error)

	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// Watch starts watching path. After a burst of changes settles for
// debounce, the file is loaded and onReload receives the new configuration;
// load failures and watch errors go to onError, which may be nil. The
// previous configuration stays in effect after a failed load.
//
// The directory is watched rather than the file so that editors replacing
// the file by rename are seen.
func Watch(path string, debounce time.Duration, onReload func(Config), onError func(error)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}
	w := &Watcher{
		watcher:  fw,
		path:     path,
		debounce: debounce,
		onReload: onReload,
		onError:  onError,
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Close stops watching and waits for the watch goroutine to exit. A reload
// in progress completes first.
func (w *Watcher) Close() error {
	w.once.Do(func() { close(w.stop) })
	<-w.stopped
	return nil
}

func (w *Watcher) loop() {
	defer close(w.stopped)
	defer w.watcher.Close()

	abs, _ := filepath.Abs(w.path)
	base := filepath.Base(w.path)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-w.stop:
			if timer != nil {
				timer.Stop()
			}
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			evAbs, _ := filepath.Abs(ev.Name)
			if filepath.Base(ev.Name) != base && evAbs != abs {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			fire = timer.C

		case <-fire:
			timer, fire = nil, nil
			cfg, err := Load(w.path)
			if err != nil {
				w.report(err)
				continue
			}
			if w.onReload != nil {
				w.onReload(cfg)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.report(err)
		}
	}
}

func (w *Watcher) report(err error) {
	if w.onError != nil {
		w.onError(err)
	}
}
