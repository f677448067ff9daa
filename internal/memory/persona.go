package memory

import (
	"os"
	"strings"
	"sync"

	"sovereign/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// fallbackPersona keeps the system functional when the persona file is
// missing or unreadable on boot.
const fallbackPersona = "You are a resident assistant for this machine. " +
	"You speak plainly, keep continuity with past conversations, and your mood " +
	"colors your phrasing without changing the facts you report."

// Persona holds the free-text persona core injected at the top of every
// composed context. The file can be edited live; a watcher reloads it.
type Persona struct {
	mu   sync.RWMutex
	path string
	text string

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// LoadPersona reads the persona file, falling back to a terse built-in
// identity when the file is absent.
func LoadPersona(path string) *Persona {
	p := &Persona{path: path, text: fallbackPersona}
	if path == "" {
		return p
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logging.Get(logging.CategoryMemory).Warn("persona file unavailable, using fallback: %v", err)
		return p
	}
	if text := strings.TrimSpace(string(data)); text != "" {
		p.text = text
	}
	logging.Memory("persona loaded from %s (%d bytes)", path, len(p.text))
	return p
}

// Text returns the current persona text.
func (p *Persona) Text() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.text
}

// Watch reloads the persona when the file changes on disk. Returns an error
// only when the watcher itself cannot start; reload failures are logged and
// the previous text is kept.
func (p *Persona) Watch() error {
	if p.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(p.path); err != nil {
		watcher.Close()
		return err
	}
	p.watcher = watcher
	p.done = make(chan struct{})

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				data, err := os.ReadFile(p.path)
				if err != nil {
					logging.Get(logging.CategoryMemory).Warn("persona reload failed: %v", err)
					continue
				}
				text := strings.TrimSpace(string(data))
				if text == "" {
					continue
				}
				p.mu.Lock()
				p.text = text
				p.mu.Unlock()
				logging.Memory("persona reloaded (%d bytes)", len(text))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Get(logging.CategoryMemory).Warn("persona watcher error: %v", err)
			case <-p.done:
				return
			}
		}
	}()
	return nil
}

// Close stops the watcher if one is running.
func (p *Persona) Close() {
	if p.watcher != nil {
		close(p.done)
		p.watcher.Close()
		p.watcher = nil
	}
}
