// Package logtail follows the server's log file and forwards new lines to a
// sink, so server output can be joined into the harness log stream.
package logtail

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Tailer follows one log file. Forwarding can be paused around noisy test
// phases and resumed afterwards; while paused the read position still
// advances, so resuming does not replay old lines.
type Tailer struct {
	path    string
	emit    func(line string)
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	paused  bool
	offset  int64
	partial string

	done chan struct{}
	wg   sync.WaitGroup
}

// Follow starts tailing the file at path from its current end. The file does
// not need to exist yet; the tailer picks it up on creation.
func Follow(path string, emit func(line string)) (*Tailer, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("logtail: create watcher: %w", err)
	}

	// Watch the directory, not the file: the server may recreate the log,
	// and a watch on the old inode would go stale.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("logtail: watch %s: %w", dir, err)
	}

	t := &Tailer{
		path:    path,
		emit:    emit,
		watcher: watcher,
		done:    make(chan struct{}),
	}

	if info, err := os.Stat(path); err == nil {
		t.offset = info.Size()
	}

	t.wg.Add(1)
	go t.loop()

	return t, nil
}

// Pause suspends forwarding. Lines written while paused are skipped.
func (t *Tailer) Pause() {
	t.mu.Lock()
	t.paused = true
	t.mu.Unlock()
}

// Resume re-enables forwarding from the current end of the file.
func (t *Tailer) Resume() {
	// Drain anything written while paused so it is not replayed.
	t.consume()

	t.mu.Lock()
	t.paused = false
	t.partial = ""
	t.mu.Unlock()
}

// Stop ends the tail and releases the watcher.
func (t *Tailer) Stop() error {
	close(t.done)
	err := t.watcher.Close()
	t.wg.Wait()
	return err
}

func (t *Tailer) loop() {
	defer t.wg.Done()

	for {
		select {
		case <-t.done:
			return
		case ev, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			if ev.Name != t.path {
				continue
			}
			if ev.Op.Has(fsnotify.Create) {
				t.mu.Lock()
				t.offset = 0
				t.mu.Unlock()
			}
			if ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) {
				t.consume()
			}
		case err, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Str("path", t.path).Msg("Log watcher error")
		}
	}
}

// consume reads from the last offset to EOF and emits the complete lines.
func (t *Tailer) consume() {
	f, err := os.Open(t.path)
	if err != nil {
		return
	}
	defer f.Close()

	t.mu.Lock()
	offset := t.offset
	t.mu.Unlock()

	if info, err := f.Stat(); err == nil && info.Size() < offset {
		// Truncated underneath us; start over.
		offset = 0
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return
	}

	data, err := io.ReadAll(f)
	if err != nil && len(data) == 0 {
		return
	}

	t.mu.Lock()
	t.offset = offset + int64(len(data))
	paused := t.paused
	chunk := t.partial + string(data)

	lines := strings.Split(chunk, "\n")
	t.partial = lines[len(lines)-1]
	lines = lines[:len(lines)-1]
	t.mu.Unlock()

	if paused {
		return
	}
	for _, line := range lines {
		if line != "" {
			t.emit(line)
		}
	}
}
