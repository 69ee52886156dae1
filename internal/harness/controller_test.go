package harness

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kumasuke/s3harness/test/testutil"
)

func TestSendHealthAgainstLiveServer(t *testing.T) {
	hs := testutil.NewHealthServer(t)
	defer hs.Cleanup()

	cfg := newTestConfig(t)
	cfg.ListenPort = hs.Port
	require.NoError(t, cfg.Validate())

	c, err := NewExternal(cfg, newTestRun(t, ModeExternal))
	require.NoError(t, err)
	c.log = testLogger()

	status, err := c.SendHealth()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)

	hs.HealthStatus = http.StatusServiceUnavailable
	status, err = c.SendHealth()
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func TestExternalControlOperationsUnsupported(t *testing.T) {
	c, err := NewExternal(newTestConfig(t), newTestRun(t, ModeExternal))
	require.NoError(t, err)

	var unsupported *UnsupportedOperationError
	assert.ErrorAs(t, c.Start(false), &unsupported)
	assert.ErrorAs(t, c.Stop(), &unsupported)
	assert.ErrorAs(t, c.Restart(), &unsupported)
	assert.ErrorAs(t, c.RemoveLog(), &unsupported)

	_, err = c.ReadLog(0)
	assert.ErrorAs(t, err, &unsupported)
	_, err = c.EffectiveRoot()
	assert.ErrorAs(t, err, &unsupported)
}

type closeRecorder struct {
	closed int
}

func (c *closeRecorder) Close() error {
	c.closed++
	return nil
}

func TestLinkUnlinkClose(t *testing.T) {
	c, err := NewExternal(newTestConfig(t), newTestRun(t, ModeExternal))
	require.NoError(t, err)
	c.log = testLogger()

	kept := &closeRecorder{}
	removed := &closeRecorder{}

	c.Link(kept)
	c.Link(removed)
	c.Unlink(removed)

	c.closeLinks()
	assert.Equal(t, 1, kept.closed)
	assert.Equal(t, 0, removed.closed)

	// Links are consumed by the close pass.
	c.closeLinks()
	assert.Equal(t, 1, kept.closed)
}

func TestFactorySelectsVariant(t *testing.T) {
	cfg := newTestConfig(t)

	c, err := New(cfg, newTestRun(t, ModeProcess))
	require.NoError(t, err)
	assert.IsType(t, &Process{}, c)

	c, err = New(cfg, newTestRun(t, ModeExternal))
	require.NoError(t, err)
	assert.IsType(t, &External{}, c)

	_, err = New(cfg, &RunContext{Mode: Mode("bogus"), Registry: NewRegistry()})
	assert.Error(t, err)
}

func TestSplitLines(t *testing.T) {
	assert.Nil(t, splitLines(""))
	assert.Equal(t, []string{"a"}, splitLines("a"))
	assert.Equal(t, []string{"a", "b"}, splitLines("a\nb\n"))
	assert.Equal(t, []string{"a", "", "b"}, splitLines("a\n\nb"))
}
