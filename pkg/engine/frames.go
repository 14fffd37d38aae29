package engine

import (
	"context"
	"io"
	"iter"
	"sync/atomic"
)

// StreamState is the lifecycle of a FrameStream.
type StreamState int32

const (
	StreamIdle StreamState = iota
	StreamProducing
	StreamExhausted
)

func (s StreamState) String() string {
	switch s {
	case StreamIdle:
		return "idle"
	case StreamProducing:
		return "producing"
	case StreamExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// FrameStream is a single-pass, pull-based sequence of the frames t = 0..T-1.
// Nothing is computed ahead of a Next call. A FrameStream must be consumed by one
// goroutine; State may be read from any goroutine.
type FrameStream struct {
	e      *Engine
	state  atomic.Int32
	next   int
	xt     []float32
	eps    []float32
	stream *normalStream
}

// Frames returns a new lazy frame sequence. The random stream is seeded once with the
// base seed and consumed in strict index order.
func (e *Engine) Frames() *FrameStream {
	return &FrameStream{e: e}
}

// State reports where the stream is in its lifecycle.
func (s *FrameStream) State() StreamState {
	return StreamState(s.state.Load())
}

// Next computes and returns the next frame. It returns io.EOF once T frames have been
// produced, and ctx.Err() without advancing if ctx is already done.
func (s *FrameStream) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}
	switch s.State() {
	case StreamExhausted:
		return Frame{}, io.EOF
	case StreamIdle:
		s.xt = make([]float32, len(s.e.x0))
		copy(s.xt, s.e.x0)
		s.eps = make([]float32, len(s.e.x0))
		s.stream = newNormalStream(s.e.seed)
		s.state.Store(int32(StreamProducing))
	}

	t := s.next
	s.stream.fill(s.eps)
	step(s.xt, s.eps, s.e.sched.At(t))
	s.next++

	f, err := s.e.frame(t, s.xt)
	if s.next >= s.e.sched.Steps() || err != nil {
		s.release()
	}
	return f, err
}

// release drops the working buffers; the stream yields nothing afterwards.
func (s *FrameStream) release() {
	s.xt, s.eps, s.stream = nil, nil, nil
	s.state.Store(int32(StreamExhausted))
}

// All adapts the stream to a range-over-func iterator. Iteration stops after the last
// frame, on the first error, or when the loop body breaks.
func (s *FrameStream) All(ctx context.Context) iter.Seq2[Frame, error] {
	return func(yield func(Frame, error) bool) {
		for {
			f, err := s.Next(ctx)
			if err == io.EOF {
				return
			}
			if !yield(f, err) || err != nil {
				return
			}
		}
	}
}
