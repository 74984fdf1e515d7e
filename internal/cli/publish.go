package cli

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/thesyncim/encstream/mux"
)

type PublishOptions struct {
	Duration  time.Duration
	DropEvery int
}

func NewPublishCommand(a *app) *cobra.Command {
	opts := &PublishOptions{}

	cmd := &cobra.Command{
		Use:   "publish [rtmp-url]",
		Short: "Publish the test program to an RTMP server",
		Long:  "Publish the test program as FLV over RTMP. The last path element of the URL is the stream key.",
		Example: `  encstream publish rtmp://localhost/live/program
  encstream publish --synthetic --duration 30s rtmp://ingest.example.com:1935/app/key`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPublish(cmd, a, args[0], opts)
		},
	}

	flags := cmd.Flags()
	flags.DurationVar(&opts.Duration, "duration", 0, "Program length, 0 runs until interrupted")
	flags.IntVar(&opts.DropEvery, "drop-every", 0, "Skip every Nth frame to exercise gap filling")

	return cmd
}

func runPublish(cmd *cobra.Command, a *app, url string, opts *PublishOptions) error {
	conn, err := mux.DialRTMP(url, a.log)
	if err != nil {
		return err
	}
	sink := mux.NewFLVSink(conn, a.log)

	a.log.WithFields(logrus.Fields{"url": url, "duration": opts.Duration}).Info("publishing")
	err = a.runProgram(cmd.Context(), sink, programOptions{
		Duration:  opts.Duration,
		Realtime:  true,
		DropEvery: opts.DropEvery,
	}, nil)

	st := sink.Stats()
	a.log.WithFields(logrus.Fields{"video_tags": st.VideoTags, "audio_tags": st.AudioTags}).Info("publish finished")
	return err
}
