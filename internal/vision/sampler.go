package vision

import (
	"sync/atomic"
)

// Sampler holds the current frame, forwards every frame to the continuous
// consumers, and hands every Nth frame to the recognition worker. OnFrame
// never blocks: a sampled frame that arrives while the worker is busy is
// dropped.
type Sampler struct {
	interval uint64
	streams  []FrameSink

	current  atomic.Pointer[Frame]
	counter  atomic.Uint64
	sampled  chan *Frame
	dispatch atomic.Uint64
	dropped  atomic.Uint64
}

type SamplerStats struct {
	Frames     uint64 `json:"frames"`
	Dispatched uint64 `json:"dispatched"`
	Dropped    uint64 `json:"dropped"`
	HasFrame   bool   `json:"has_frame"`
}

func NewSampler(interval int, streams ...FrameSink) *Sampler {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	return &Sampler{
		interval: uint64(interval),
		streams:  streams,
		sampled:  make(chan *Frame, 1),
	}
}

func (s *Sampler) OnFrame(frame *Frame) {
	s.current.Store(frame)

	for _, sink := range s.streams {
		sink.OnFrame(frame)
	}

	n := s.counter.Add(1)
	if n%s.interval != 0 {
		return
	}

	select {
	case s.sampled <- frame:
		s.dispatch.Add(1)
	default:
		s.dropped.Add(1)
	}
}

// Current returns the most recent frame, or false if none has arrived yet.
func (s *Sampler) Current() (*Frame, bool) {
	f := s.current.Load()
	return f, f != nil
}

// Sampled delivers every Nth frame for recognition.
func (s *Sampler) Sampled() <-chan *Frame {
	return s.sampled
}

func (s *Sampler) Stats() SamplerStats {
	return SamplerStats{
		Frames:     s.counter.Load(),
		Dispatched: s.dispatch.Load(),
		Dropped:    s.dropped.Load(),
		HasFrame:   s.current.Load() != nil,
	}
}
