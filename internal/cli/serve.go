package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/thesyncim/encstream/mux"
	"github.com/thesyncim/encstream/session"
)

type ServeOptions struct {
	Addr      string
	Path      string
	Record    string
	RTPAddr   string
	Duration  time.Duration
	DropEvery int
}

func NewServeCommand(a *app) *cobra.Command {
	opts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the live program to websocket viewers",
		Long: `Encode the test program in real time and broadcast it as low-latency
fragmented MP4 over websocket. Session counters are served as JSON on
/stats. The program can be recorded and sent as RTP at the same time.`,
		Example: `  encstream serve --synthetic --addr :8080
  encstream serve --record program.mp4 --rtp 127.0.0.1:5004`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("addr") {
				opts.Addr = a.cfg.Serve.Addr
			}
			if !cmd.Flags().Changed("path") {
				opts.Path = a.cfg.Serve.Path
			}
			return runServe(cmd, a, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.Addr, "addr", ":8080", "HTTP listen address")
	flags.StringVar(&opts.Path, "path", "/live", "Websocket endpoint path")
	flags.StringVar(&opts.Record, "record", "", "Also record fragmented MP4 to this file")
	flags.StringVar(&opts.RTPAddr, "rtp", "", "Also send H.264 RTP to this UDP address")
	flags.DurationVar(&opts.Duration, "duration", 0, "Program length, 0 runs until interrupted")
	flags.IntVar(&opts.DropEvery, "drop-every", 0, "Skip every Nth frame to exercise gap filling")

	return cmd
}

func runServe(cmd *cobra.Command, a *app, opts *ServeOptions) error {
	feed := mux.NewWSFeed(a.log)
	sinks := []mux.Sink{&closingSink{Sink: mux.NewLiveFMP4Sink(feed, a.log), c: feed}}

	if opts.Record != "" {
		w, err := mux.CreateFMP4File(opts.Record, mux.FMP4Options{
			FragmentDuration: a.cfg.Record.FragmentDuration,
			Logger:           a.log,
		})
		if err != nil {
			return err
		}
		sinks = append(sinks, w)
	}
	if opts.RTPAddr != "" {
		out, err := dialUDPRTP(opts.RTPAddr)
		if err != nil {
			for _, s := range sinks {
				s.Close()
			}
			return err
		}
		sinks = append(sinks, &closingSink{Sink: mux.NewMonitorSink(out, a.log), c: out})
	}

	var current atomic.Pointer[session.Session]
	router := http.NewServeMux()
	router.Handle(opts.Path, feed)
	router.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		s := current.Load()
		if s == nil {
			http.Error(w, "no session", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(statsResponse{
			Session: s.ID(),
			State:   s.State().String(),
			Viewers: feed.Viewers(),
			Stats:   s.Stats(),
		})
	})

	ln, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		for _, s := range sinks {
			s.Close()
		}
		return fmt.Errorf("listen: %w", err)
	}
	srv := &http.Server{Handler: router, ReadHeaderTimeout: 5 * time.Second}
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	a.log.WithFields(logrus.Fields{
		"addr":   ln.Addr().String(),
		"path":   opts.Path,
		"record": opts.Record,
		"rtp":    opts.RTPAddr,
	}).Info("serving")

	err = a.runProgram(cmd.Context(), mux.NewMultiSink(a.log, sinks...), programOptions{
		Duration:  opts.Duration,
		Realtime:  true,
		DropEvery: opts.DropEvery,
	}, current.Store)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := srv.Shutdown(ctx); serr != nil {
		a.log.WithError(serr).Warn("http shutdown")
	}
	if serr := <-serveErr; serr != nil && !errors.Is(serr, http.ErrServerClosed) {
		err = errors.Join(err, serr)
	}
	return err
}

type statsResponse struct {
	Session string        `json:"session"`
	State   string        `json:"state"`
	Viewers int           `json:"viewers"`
	Stats   session.Stats `json:"stats"`
}

// udpRTP sends each packet as one datagram.
type udpRTP struct {
	conn net.Conn
}

func dialUDPRTP(addr string) (*udpRTP, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial rtp: %w", err)
	}
	return &udpRTP{conn: conn}, nil
}

func (u *udpRTP) WriteRTP(p *rtp.Packet) error {
	b, err := p.Marshal()
	if err != nil {
		return err
	}
	_, err = u.conn.Write(b)
	return err
}

func (u *udpRTP) Close() error { return u.conn.Close() }
