package video

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOutputs(t *testing.T) {
	root := filepath.Join(t.TempDir(), "out")
	o, err := NewOutputs(root, "/videos/match 9.MP4")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "match 9_redacted.mp4"), o.VideoPath)
	assert.Equal(t, filepath.Join(root, "match 9_frames"), o.FrameDir)

	st, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, st.IsDir())

	o, err = NewOutputs("", "/videos/clip.mp4")
	require.NoError(t, err)
	assert.Equal(t, "/videos/clip_redacted.mp4", o.VideoPath)

	_, err = NewOutputs(root, "")
	assert.Error(t, err)
}

func TestResolveOutputs(t *testing.T) {
	dir := t.TempDir()
	c := testConfig()
	c.InputVideo = filepath.Join(dir, "in.mp4")
	c.OutputFrameDir = filepath.Join(dir, "stills")

	o, err := ResolveOutputs(c, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "in_redacted.mp4"), o.VideoPath)
	assert.Equal(t, filepath.Join(dir, "stills"), o.FrameDir)
	assert.False(t, o.Done())

	c.OutputVideo = filepath.Join(dir, "sub", "out.mp4")
	o, err = ResolveOutputs(c, "")
	require.NoError(t, err)
	assert.Equal(t, c.OutputVideo, o.VideoPath)
	_, err = os.Stat(filepath.Join(dir, "sub"))
	assert.NoError(t, err)

	require.NoError(t, os.WriteFile(o.VideoPath, []byte("x"), 0644))
	assert.True(t, o.Done())
}

func TestVideoDurationMissing(t *testing.T) {
	o := &Outputs{VideoPath: filepath.Join(t.TempDir(), "none.mp4")}
	_, err := o.VideoDuration()
	assert.Error(t, err)
}
