package mux

import (
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/thesyncim/encstream"
)

// MultiSink fans segments out to several sinks. A sink that fails is
// detached and logged; the others keep receiving. WriteSegment reports an
// error only once every sink has failed.
type MultiSink struct {
	sinks  []Sink
	failed []error
	log    logrus.FieldLogger
}

// NewMultiSink returns a sink writing to all of sinks in order.
func NewMultiSink(logger logrus.FieldLogger, sinks ...Sink) *MultiSink {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &MultiSink{
		sinks:  sinks,
		failed: make([]error, len(sinks)),
		log:    logger,
	}
}

func (m *MultiSink) WriteHeader(h Header) error {
	return m.each(func(s Sink) error { return s.WriteHeader(h) })
}

func (m *MultiSink) WriteSegment(seg encstream.Segment) error {
	return m.each(func(s Sink) error { return s.WriteSegment(seg) })
}

func (m *MultiSink) each(fn func(Sink) error) error {
	live := 0
	for i, s := range m.sinks {
		if m.failed[i] != nil {
			continue
		}
		if err := fn(s); err != nil {
			m.failed[i] = err
			m.log.WithError(err).WithField("index", i).Error("sink failed, detaching")
			continue
		}
		live++
	}
	if live == 0 && len(m.sinks) > 0 {
		return errors.Join(m.failed...)
	}
	return nil
}

// Failed returns the error of each detached sink, indexed like the
// constructor arguments. Healthy sinks have a nil entry.
func (m *MultiSink) Failed() []error {
	return append([]error(nil), m.failed...)
}

// Close closes every sink, including detached ones.
func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
