package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thesyncim/encstream"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 1280, cfg.Video.Width)
	assert.Equal(t, int64(90000), cfg.Video.TimeBase)
	assert.Equal(t, 48000, cfg.Audio.SampleRate)
	assert.Equal(t, 2*time.Second, cfg.Record.FragmentDuration)
	assert.Equal(t, ":8080", cfg.Serve.Addr)
	assert.False(t, cfg.Synthetic)

	p, err := cfg.VideoProfile()
	require.NoError(t, err)
	assert.Equal(t, encstream.ProfileStream, p)
	assert.Empty(t, cfg.StreamOptions())
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "encstream.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
video:
  width: 640
  height: 360
  profile: monitor
stream:
  queue_limit: 32
  overflow: drop-oldest
record:
  fragment_duration: 500ms
`), 0o644))

	t.Setenv("ENCSTREAM_VIDEO_HEIGHT", "480")
	t.Setenv("ENCSTREAM_SYNTHETIC", "true")

	cfg, err := Load(file)
	require.NoError(t, err)

	assert.Equal(t, 640, cfg.Video.Width)
	assert.Equal(t, 480, cfg.Video.Height, "environment overrides the file")
	assert.True(t, cfg.Synthetic)
	assert.Equal(t, 500*time.Millisecond, cfg.Record.FragmentDuration)

	policy, err := cfg.OverflowPolicy()
	require.NoError(t, err)
	assert.Equal(t, encstream.OverflowDropOldest, policy)
	assert.Len(t, cfg.StreamOptions(), 1)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	tests := []struct {
		name string
		edit func(*Config)
	}{
		{"profile", func(c *Config) { c.Video.Profile = "cinema" }},
		{"overflow", func(c *Config) { c.Stream.Overflow = "block" }},
		{"provider", func(c *Config) { c.Video.Provider = "openh264" }},
		{"odd width", func(c *Config) { c.Video.Width = 641 }},
		{"time base", func(c *Config) { c.Video.TimeBase = 0 }},
		{"sample rate", func(c *Config) { c.Audio.SampleRate = 0 }},
		{"queue limit", func(c *Config) { c.Stream.QueueLimit = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.edit(cfg)
			assert.ErrorIs(t, cfg.Validate(), encstream.ErrInvalidConfig)
		})
	}
}
