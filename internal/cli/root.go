// Package cli implements the encstream command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/thesyncim/encstream/internal/config"
	"github.com/thesyncim/encstream/internal/logging"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	configFile string

	cfg       *config.Config
	log       *logrus.Logger
	logCloser io.Closer
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "encstream",
		Short: "Encode and synchronize live audio and video",
		Long: `encstream encodes a live program into AAC audio and H.264 video,
merges both tracks into decode-ordered segments and hands them to
fragmented MP4, FLV, RTMP, websocket or RTP outputs.

Settings come from config.yaml, ENCSTREAM_* environment variables and
flags, in increasing priority.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.logCloser != nil {
				return a.logCloser.Close()
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "Config file (default: search config.yaml)")
	flags.String("log-level", "info", "Log level (debug, info, warning, error)")
	flags.String("log-format", "text", "Log format (text or json)")
	flags.Bool("synthetic", false, "Use synthetic encoders instead of the native codec libraries")
	flags.String("profile", "stream", "Video profile (monitor or stream)")

	root.AddCommand(NewRecordCommand(a))
	root.AddCommand(NewPublishCommand(a))
	root.AddCommand(NewServeCommand(a))
	root.AddCommand(NewProvidersCommand(a))

	return root
}

// Execute runs the command tree until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCommand().ExecuteContext(ctx)
}

var flagKeys = map[string]string{
	"log-level":  "log.level",
	"log-format": "log.format",
	"synthetic":  "synthetic",
	"profile":    "video.profile",
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	v, err := config.New(a.configFile)
	if err != nil {
		return err
	}
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, cmd.Root().PersistentFlags().Lookup(name)); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	cfg, err := config.Decode(v)
	if err != nil {
		return err
	}

	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = logger
	a.logCloser = closer

	if f := v.ConfigFileUsed(); f != "" {
		logger.WithField("file", f).Debug("config loaded")
	}
	return nil
}
