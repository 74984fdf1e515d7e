package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/thesyncim/encstream/mux"
)

type RecordOptions struct {
	Output     string
	Format     string
	LowLatency bool
	Duration   time.Duration
	Realtime   bool
	DropEvery  int
}

func NewRecordCommand(a *app) *cobra.Command {
	opts := &RecordOptions{}

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Encode the test program to a file",
		Long: `Encode the test pattern and tone into a fragmented MP4 or FLV file.
Fragmented MP4 is cut on key frames; --low-latency writes one fragment
per segment instead.`,
		Example: `  encstream record --synthetic -o program.mp4 --duration 10s
  encstream record --format flv -o - --duration 5s > program.flv
  encstream record --low-latency -o - | ffplay -`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(cmd, a, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.Output, "output", "o", "program.mp4", "Output file, - for stdout")
	flags.StringVar(&opts.Format, "format", "mp4", "Container (mp4 or flv)")
	flags.BoolVar(&opts.LowLatency, "low-latency", false, "Write one MP4 fragment per segment")
	flags.DurationVar(&opts.Duration, "duration", 10*time.Second, "Program length, 0 runs until interrupted")
	flags.BoolVar(&opts.Realtime, "realtime", false, "Pace the program against the wall clock")
	flags.IntVar(&opts.DropEvery, "drop-every", 0, "Skip every Nth frame to exercise gap filling")

	cmd.RegisterFlagCompletionFunc("format", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"mp4", "flv"}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func runRecord(cmd *cobra.Command, a *app, opts *RecordOptions) error {
	if opts.Duration == 0 && !opts.Realtime {
		return fmt.Errorf("an unbounded recording needs --realtime")
	}

	sink, err := newRecordSink(cmd.OutOrStdout(), a, opts)
	if err != nil {
		return err
	}

	a.log.WithFields(logrus.Fields{
		"output":   opts.Output,
		"format":   opts.Format,
		"duration": opts.Duration,
	}).Info("recording")

	return a.runProgram(cmd.Context(), sink, programOptions{
		Duration:  opts.Duration,
		Realtime:  opts.Realtime,
		DropEvery: opts.DropEvery,
	}, nil)
}

func newRecordSink(stdout io.Writer, a *app, opts *RecordOptions) (mux.Sink, error) {
	fopts := mux.FMP4Options{
		FragmentDuration: a.cfg.Record.FragmentDuration,
		Logger:           a.log,
	}
	if opts.Format == "mp4" && !opts.LowLatency && opts.Output != "-" {
		return mux.CreateFMP4File(opts.Output, fopts)
	}

	out, err := openOutput(opts.Output, stdout)
	if err != nil {
		return nil, err
	}
	switch {
	case opts.Format == "flv":
		return mux.NewFLVSink(mux.NewFLVFile(out), a.log), nil
	case opts.Format == "mp4" && opts.LowLatency:
		return &closingSink{Sink: mux.NewLiveFMP4Sink(mux.StreamPartWriter{W: out}, a.log), c: out}, nil
	case opts.Format == "mp4":
		return &closingSink{Sink: mux.NewFMP4Writer(out, fopts), c: out}, nil
	default:
		out.Close()
		return nil, fmt.Errorf("unknown format %q", opts.Format)
	}
}

// openOutput opens path for writing; "-" is stdout, which is never closed.
func openOutput(path string, stdout io.Writer) (io.WriteCloser, error) {
	if path == "-" {
		return nopWriteCloser{stdout}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output: %w", err)
	}
	return f, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// closingSink closes c after the wrapped sink.
type closingSink struct {
	mux.Sink
	c io.Closer
}

func (s *closingSink) Close() error {
	err := s.Sink.Close()
	if cerr := s.c.Close(); err == nil {
		err = cerr
	}
	return err
}
