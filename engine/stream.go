package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
)

type EventType string

const (
	EventPhaseUpdate  EventType = "phase_update"
	EventProgress     EventType = "progress"
	EventAction       EventType = "action"
	EventContentChunk EventType = "content_chunk"
	EventComplete     EventType = "complete"
	EventError        EventType = "error"
)

// Event is one element of a streamed advance.
type Event struct {
	Type    EventType `json:"type"`
	Phase   Phase     `json:"phase,omitempty"`
	Message string    `json:"message,omitempty"`
	Action  *Action   `json:"action,omitempty"`
	Content string    `json:"content,omitempty"`
	Result  *Result   `json:"result,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// Advancer runs one engine step; *Engine satisfies it.
type Advancer interface {
	Advance(ctx context.Context, req Request) (Result, error)
}

// Streamer wraps one Advance call in an event sequence with heartbeats, for transports
// that drop idle or long-running responses.
type Streamer struct {
	advancer   Advancer
	heartbeat  time.Duration
	chunkSize  int
	chunkDelay time.Duration
	logger     *slog.Logger
}

type StreamOption func(*Streamer)

func WithHeartbeat(d time.Duration) StreamOption {
	return func(s *Streamer) {
		if d > 0 {
			s.heartbeat = d
		}
	}
}

// WithChunking sets the size of content_chunk events and the pause between them.
func WithChunking(size int, delay time.Duration) StreamOption {
	return func(s *Streamer) {
		if size > 0 {
			s.chunkSize = size
		}
		if delay >= 0 {
			s.chunkDelay = delay
		}
	}
}

func WithStreamLogger(logger *slog.Logger) StreamOption {
	return func(s *Streamer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewStreamer(a Advancer, opts ...StreamOption) *Streamer {
	s := &Streamer{
		advancer:   a,
		heartbeat:  5 * time.Second,
		chunkSize:  40,
		chunkDelay: 15 * time.Millisecond,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type advanceOutcome struct {
	result Result
	err    error
}

// Stream emits phase_update, heartbeats while the step runs, then per action an action
// event followed by its content in chunks, and finally complete or error. The channel
// is closed after the terminal event or once ctx is done. The step itself is not
// cancelled by ctx and runs to completion in the background.
func (s *Streamer) Stream(ctx context.Context, req Request) <-chan Event {
	out := make(chan Event)
	emit := func(ev Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(out)
		phase := CurrentPhase(req.Memory)
		if !emit(Event{Type: EventPhaseUpdate, Phase: phase, Message: phaseMessage(phase)}) {
			return
		}

		done := make(chan advanceOutcome, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- advanceOutcome{err: fmt.Errorf("advance panicked: %v", r)}
				}
			}()
			res, err := s.advancer.Advance(context.WithoutCancel(ctx), req)
			done <- advanceOutcome{result: res, err: err}
		}()

		start := time.Now()
		ticker := time.NewTicker(s.heartbeat)
		defer ticker.Stop()
		var outcome advanceOutcome
	wait:
		for {
			select {
			case outcome = <-done:
				break wait
			case <-ticker.C:
				msg := fmt.Sprintf("Still working on %s... (%ds)", phase, int(time.Since(start).Seconds()))
				if !emit(Event{Type: EventProgress, Message: msg}) {
					return
				}
			case <-ctx.Done():
				s.logger.Info("stream.client_gone", "phase", phase)
				return
			}
		}

		if outcome.err != nil {
			s.logger.Error("stream.advance_failed", "phase", phase, "error", outcome.err.Error())
			emit(Event{Type: EventError, Error: outcome.err.Error()})
			return
		}

		res := outcome.result
		for i := range res.Actions {
			action := res.Actions[i]
			if !emit(Event{Type: EventAction, Action: &action}) {
				return
			}
			for _, chunk := range splitChunks(action.Content, s.chunkSize) {
				if !s.pause(ctx) || !emit(Event{Type: EventContentChunk, Content: chunk}) {
					return
				}
			}
		}
		emit(Event{Type: EventComplete, Phase: res.Phase, Message: res.Message, Result: &res})
	}()
	return out
}

func (s *Streamer) pause(ctx context.Context) bool {
	if s.chunkDelay <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(s.chunkDelay)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// splitChunks cuts s into pieces of at most size runes.
func splitChunks(s string, size int) []string {
	if s == "" {
		return nil
	}
	r := []rune(s)
	chunks := make([]string, 0, len(r)/size+1)
	for start := 0; start < len(r); start += size {
		end := start + size
		if end > len(r) {
			end = len(r)
		}
		chunks = append(chunks, string(r[start:end]))
	}
	return chunks
}

func phaseMessage(p Phase) string {
	switch p {
	case PhasePlan:
		return "Planning the document..."
	case PhaseAwaitingAnswers:
		return "Reading your answer..."
	case PhaseExecute:
		return "Writing..."
	case PhaseReview:
		return "Reviewing the draft..."
	case PhasePostprocess:
		return "Polishing the text..."
	case PhaseComplete:
		return "Document is complete."
	}
	return "Working..."
}
