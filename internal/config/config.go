// Package config loads encstream settings from defaults, an optional yaml
// file and ENCSTREAM_* environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/thesyncim/encstream"
)

// EnvPrefix prefixes every environment override, e.g. ENCSTREAM_VIDEO_WIDTH.
const EnvPrefix = "ENCSTREAM"

// Log configures logging.
type Log struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // text or json
	File       string `mapstructure:"file"`   // empty logs to stderr only
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// Video configures the H.264 context and the test pattern.
type Video struct {
	Width    int    `mapstructure:"width"`
	Height   int    `mapstructure:"height"`
	TimeBase int64  `mapstructure:"time_base"`
	FPS      int    `mapstructure:"fps"`
	Profile  string `mapstructure:"profile"`
	Provider string `mapstructure:"provider"`
	Threads  int    `mapstructure:"threads"`
	Pattern  string `mapstructure:"pattern"`
}

// Audio configures the AAC context and the test tone.
type Audio struct {
	SampleRate int     `mapstructure:"sample_rate"`
	BitRate    int     `mapstructure:"bit_rate"`
	Provider   string  `mapstructure:"provider"`
	Tone       string  `mapstructure:"tone"`
	Frequency  float64 `mapstructure:"frequency"`
}

// Stream configures the segment queues.
type Stream struct {
	QueueLimit int    `mapstructure:"queue_limit"` // 0 is unbounded
	Overflow   string `mapstructure:"overflow"`    // fail or drop-oldest
}

// Session configures the producer queue.
type Session struct {
	QueueSize int `mapstructure:"queue_size"`
}

// Record configures the fragmented MP4 writer.
type Record struct {
	FragmentDuration time.Duration `mapstructure:"fragment_duration"`
}

// Serve configures the websocket viewer endpoint.
type Serve struct {
	Addr string `mapstructure:"addr"`
	Path string `mapstructure:"path"`
}

// Config is the full settings tree.
type Config struct {
	Log       Log     `mapstructure:"log"`
	Video     Video   `mapstructure:"video"`
	Audio     Audio   `mapstructure:"audio"`
	Stream    Stream  `mapstructure:"stream"`
	Session   Session `mapstructure:"session"`
	Record    Record  `mapstructure:"record"`
	Serve     Serve   `mapstructure:"serve"`
	Synthetic bool    `mapstructure:"synthetic"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 16)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.compress", true)

	v.SetDefault("video.width", 1280)
	v.SetDefault("video.height", 720)
	v.SetDefault("video.time_base", 90000)
	v.SetDefault("video.fps", 30)
	v.SetDefault("video.profile", encstream.ProfileStream.String())
	v.SetDefault("video.provider", encstream.ProviderAuto.String())
	v.SetDefault("video.threads", 0)
	v.SetDefault("video.pattern", "bars")

	v.SetDefault("audio.sample_rate", 48000)
	v.SetDefault("audio.bit_rate", 128000)
	v.SetDefault("audio.provider", encstream.ProviderAuto.String())
	v.SetDefault("audio.tone", "sine")
	v.SetDefault("audio.frequency", 440.0)

	v.SetDefault("stream.queue_limit", 0)
	v.SetDefault("stream.overflow", "fail")

	v.SetDefault("session.queue_size", 64)

	v.SetDefault("record.fragment_duration", 2*time.Second)

	v.SetDefault("serve.addr", ":8080")
	v.SetDefault("serve.path", "/live")

	v.SetDefault("synthetic", false)
}

// New returns a viper instance with defaults and environment binding. When
// file is empty, config.yaml is searched in the working directory,
// $HOME/.encstream and /etc/encstream; a missing file is not an error.
func New(file string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		for _, path := range []string{".", "$HOME/.encstream", "/etc/encstream"} {
			v.AddConfigPath(os.ExpandEnv(path))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// Decode unmarshals and validates v.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load is New followed by Decode.
func Load(file string) (*Config, error) {
	v, err := New(file)
	if err != nil {
		return nil, err
	}
	return Decode(v)
}

// Validate checks the values the codecs and queues cannot default.
func (c *Config) Validate() error {
	if _, err := c.VideoProfile(); err != nil {
		return err
	}
	if _, err := c.OverflowPolicy(); err != nil {
		return err
	}
	if _, ok := encstream.ParseProvider(c.Video.Provider); !ok {
		return fmt.Errorf("%w: video provider %q", encstream.ErrInvalidConfig, c.Video.Provider)
	}
	if _, ok := encstream.ParseProvider(c.Audio.Provider); !ok {
		return fmt.Errorf("%w: audio provider %q", encstream.ErrInvalidConfig, c.Audio.Provider)
	}
	if c.Video.Width <= 0 || c.Video.Height <= 0 || c.Video.Width%2 != 0 || c.Video.Height%2 != 0 {
		return fmt.Errorf("%w: video size %dx%d", encstream.ErrInvalidConfig, c.Video.Width, c.Video.Height)
	}
	if c.Video.TimeBase <= 0 || c.Video.FPS <= 0 {
		return fmt.Errorf("%w: time base %d, fps %d", encstream.ErrInvalidConfig, c.Video.TimeBase, c.Video.FPS)
	}
	if c.Audio.SampleRate <= 0 || c.Audio.BitRate <= 0 {
		return fmt.Errorf("%w: audio %d Hz at %d bps", encstream.ErrInvalidConfig, c.Audio.SampleRate, c.Audio.BitRate)
	}
	if c.Stream.QueueLimit < 0 {
		return fmt.Errorf("%w: queue limit %d", encstream.ErrInvalidConfig, c.Stream.QueueLimit)
	}
	return nil
}

// VideoProfile parses Video.Profile.
func (c *Config) VideoProfile() (encstream.Profile, error) {
	p, ok := encstream.ParseProfile(c.Video.Profile)
	if !ok {
		return 0, fmt.Errorf("%w: profile %q", encstream.ErrInvalidConfig, c.Video.Profile)
	}
	return p, nil
}

// OverflowPolicy parses Stream.Overflow.
func (c *Config) OverflowPolicy() (encstream.OverflowPolicy, error) {
	switch c.Stream.Overflow {
	case "", "fail":
		return encstream.OverflowFail, nil
	case "drop-oldest":
		return encstream.OverflowDropOldest, nil
	default:
		return 0, fmt.Errorf("%w: overflow policy %q", encstream.ErrInvalidConfig, c.Stream.Overflow)
	}
}

// StreamOptions returns the Stream options the config asks for.
func (c *Config) StreamOptions() []encstream.StreamOption {
	var opts []encstream.StreamOption
	if c.Stream.QueueLimit > 0 {
		policy, _ := c.OverflowPolicy()
		opts = append(opts, encstream.WithQueueLimit(c.Stream.QueueLimit, policy))
	}
	return opts
}
