package hotplug

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/bnema/scanout/internal/logger"
)

// DefaultCardDir is where the kernel exposes primary DRM nodes.
const DefaultCardDir = "/dev/dri"

// CardEvent reports a card node appearing or disappearing.
type CardEvent struct {
	Path    string
	Removed bool
}

// IsCardNode reports whether name is a primary node ("card0"), not a
// render node or a by-path link.
func IsCardNode(name string) bool {
	base := filepath.Base(name)
	if !strings.HasPrefix(base, "card") || len(base) == len("card") {
		return false
	}
	for _, c := range base[len("card"):] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// ListCards returns the card nodes in dir, sorted.
func ListCards(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "card*"))
	if err != nil {
		return nil, err
	}
	cards := matches[:0]
	for _, m := range matches {
		if IsCardNode(m) {
			cards = append(cards, m)
		}
	}
	sort.Strings(cards)
	return cards, nil
}

// CardWatcher reports card nodes created or removed in a directory, which
// is how a GPU that is hot-plugged (or bound late by its driver) shows up.
type CardWatcher struct {
	watcher *fsnotify.Watcher
	events  chan CardEvent
	stop    chan struct{}
	done    chan struct{}
}

func NewCardWatcher(dir string) (*CardWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	cw := &CardWatcher{
		watcher: w,
		events:  make(chan CardEvent, 8),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go cw.run()
	return cw, nil
}

// Events delivers card changes until Close.
func (cw *CardWatcher) Events() <-chan CardEvent { return cw.events }

func (cw *CardWatcher) run() {
	defer close(cw.done)
	defer close(cw.events)
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if ev, ok := cardEvent(event); ok {
				select {
				case cw.events <- ev:
				case <-cw.stop:
					return
				}
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("card watcher error", "err", err)
		}
	}
}

func cardEvent(event fsnotify.Event) (CardEvent, bool) {
	if !IsCardNode(event.Name) {
		return CardEvent{}, false
	}
	switch {
	case event.Has(fsnotify.Create):
		return CardEvent{Path: event.Name}, true
	case event.Has(fsnotify.Remove):
		return CardEvent{Path: event.Name, Removed: true}, true
	}
	return CardEvent{}, false
}

func (cw *CardWatcher) Close() error {
	close(cw.stop)
	err := cw.watcher.Close()
	<-cw.done
	return err
}
