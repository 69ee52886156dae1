package logtail_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kumasuke/s3harness/internal/logtail"
)

type lineSink struct {
	mu    sync.Mutex
	lines []string
}

func (s *lineSink) emit(line string) {
	s.mu.Lock()
	s.lines = append(s.lines, line)
	s.mu.Unlock()
}

func (s *lineSink) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

func (s *lineSink) contains(want string) bool {
	for _, line := range s.snapshot() {
		if line == want {
			return true
		}
	}
	return false
}

func appendLine(t *testing.T, path, line string) {
	t.Helper()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(line + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestFollowEmitsNewLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	sink := &lineSink{}

	tailer, err := logtail.Follow(path, sink.emit)
	require.NoError(t, err)
	defer func() { _ = tailer.Stop() }()

	appendLine(t, path, "request handled")
	appendLine(t, path, "another request")

	assert.Eventually(t, func() bool {
		return sink.contains("request handled") && sink.contains("another request")
	}, 3*time.Second, 20*time.Millisecond)
}

func TestFollowStartsAtCurrentEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	appendLine(t, path, "from a previous run")

	sink := &lineSink{}
	tailer, err := logtail.Follow(path, sink.emit)
	require.NoError(t, err)
	defer func() { _ = tailer.Stop() }()

	appendLine(t, path, "fresh line")

	assert.Eventually(t, func() bool {
		return sink.contains("fresh line")
	}, 3*time.Second, 20*time.Millisecond)
	assert.False(t, sink.contains("from a previous run"))
}

func TestPauseSkipsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	sink := &lineSink{}

	tailer, err := logtail.Follow(path, sink.emit)
	require.NoError(t, err)
	defer func() { _ = tailer.Stop() }()

	appendLine(t, path, "before pause")
	require.Eventually(t, func() bool {
		return sink.contains("before pause")
	}, 3*time.Second, 20*time.Millisecond)

	tailer.Pause()
	appendLine(t, path, "while paused")
	// Give the watcher time to see and discard the write.
	time.Sleep(300 * time.Millisecond)

	tailer.Resume()
	appendLine(t, path, "after resume")

	assert.Eventually(t, func() bool {
		return sink.contains("after resume")
	}, 3*time.Second, 20*time.Millisecond)
	assert.False(t, sink.contains("while paused"))
}

func TestStopEndsTailing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	sink := &lineSink{}

	tailer, err := logtail.Follow(path, sink.emit)
	require.NoError(t, err)
	require.NoError(t, tailer.Stop())

	appendLine(t, path, "too late")
	time.Sleep(200 * time.Millisecond)
	assert.False(t, sink.contains("too late"))
}
