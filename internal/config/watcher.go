package config

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// RuleWatcher watches a rule-table file and reloads it on change.
// Classification providers edit the YAML file; running sessions pick up
// the new tables without a restart.
type RuleWatcher struct {
	path    string
	watcher *fsnotify.Watcher
	onLoad  func(*RuleTables)

	mu      sync.RWMutex
	current *RuleTables
	done    chan struct{}
}

// NewRuleWatcher loads the rules at path and begins watching for changes.
// onLoad is called with every successfully loaded table set, including
// the initial load. Pass a nil onLoad to only use Current().
func NewRuleWatcher(path string, onLoad func(*RuleTables)) (*RuleWatcher, error) {
	rules, err := LoadRules(path)
	if err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	// Watch the directory rather than the file: editors replace files on
	// save, which drops a watch bound to the old inode.
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch rules dir: %w", err)
	}

	rw := &RuleWatcher{
		path:    path,
		watcher: w,
		onLoad:  onLoad,
		current: rules,
		done:    make(chan struct{}),
	}

	if onLoad != nil {
		onLoad(rules)
	}

	go rw.loop()
	return rw, nil
}

// Current returns the most recently loaded rule tables.
func (rw *RuleWatcher) Current() *RuleTables {
	rw.mu.RLock()
	defer rw.mu.RUnlock()
	return rw.current
}

// Close stops the watcher.
func (rw *RuleWatcher) Close() error {
	close(rw.done)
	return rw.watcher.Close()
}

func (rw *RuleWatcher) loop() {
	for {
		select {
		case <-rw.done:
			return
		case event, ok := <-rw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(rw.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			rules, err := LoadRules(rw.path)
			if err != nil {
				log.Printf("[config] rules reload failed, keeping previous tables: %v", err)
				continue
			}
			rw.mu.Lock()
			rw.current = rules
			rw.mu.Unlock()
			if rw.onLoad != nil {
				rw.onLoad(rules)
			}
		case err, ok := <-rw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[config] rules watcher error: %v", err)
		}
	}
}
