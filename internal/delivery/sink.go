// Package delivery hands pipeline output to the user: rewritten chunks in
// order, plus interim status notices.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Sink receives one run's output. SendText is called once per chunk, in
// order.
type Sink interface {
	SendText(ctx context.Context, userID, runID, text string) error
	EditStatus(ctx context.Context, userID, runID, message string) error
}

// multi fans out to every sink and joins their errors.
type multi []Sink

// Multi returns a Sink that delivers to all of sinks.
func Multi(sinks ...Sink) Sink {
	if len(sinks) == 1 {
		return sinks[0]
	}
	return multi(sinks)
}

func (m multi) SendText(ctx context.Context, userID, runID, text string) error {
	var errs []error
	for _, s := range m {
		if err := s.SendText(ctx, userID, runID, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m multi) EditStatus(ctx context.Context, userID, runID, message string) error {
	var errs []error
	for _, s := range m {
		if err := s.EditStatus(ctx, userID, runID, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WriterSink prints text chunks to w, separated by blank lines. Status
// notices go to status when it is non-nil.
type WriterSink struct {
	mu     sync.Mutex
	w      io.Writer
	status io.Writer
}

func NewWriterSink(w, status io.Writer) *WriterSink {
	return &WriterSink{w: w, status: status}
}

func (s *WriterSink) SendText(_ context.Context, _, _, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.w, "%s\n\n", text)
	return err
}

func (s *WriterSink) EditStatus(_ context.Context, _, _, message string) error {
	if s.status == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.status, "[%s]\n", message)
	return err
}
