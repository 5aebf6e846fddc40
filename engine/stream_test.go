package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"auto_doc_writer/generator"
)

type advanceFunc func(ctx context.Context, req Request) (Result, error)

func (f advanceFunc) Advance(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

func collect(ch <-chan Event) []Event {
	var events []Event
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func TestStreamEmitsOrderedEvents(t *testing.T) {
	adv := advanceFunc(func(context.Context, Request) (Result, error) {
		time.Sleep(60 * time.Millisecond)
		return Result{
			Phase: PhaseExecute,
			Actions: []Action{
				{Type: ActionCreate, SectionID: "Intro", Content: "abcdefghij"},
				{Type: ActionUpdate, SectionID: "s2", Content: "xyz"},
			},
			Message: "done",
		}, nil
	})
	s := NewStreamer(adv, WithHeartbeat(10*time.Millisecond), WithChunking(4, 0))
	events := collect(s.Stream(context.Background(), Request{}))

	if len(events) == 0 || events[0].Type != EventPhaseUpdate || events[0].Phase != PhasePlan {
		t.Fatalf("expected phase_update first, got %+v", events)
	}
	heartbeats := 0
	i := 1
	for ; i < len(events) && events[i].Type == EventProgress; i++ {
		heartbeats++
	}
	if heartbeats == 0 {
		t.Fatalf("expected heartbeats while advance runs")
	}
	var tail []string
	for _, ev := range events[i:] {
		switch ev.Type {
		case EventAction:
			tail = append(tail, "action:"+ev.Action.SectionID)
		case EventContentChunk:
			tail = append(tail, ev.Content)
		default:
			tail = append(tail, string(ev.Type))
		}
	}
	want := "action:Intro|abcd|efgh|ij|action:s2|xyz|complete"
	if got := strings.Join(tail, "|"); got != want {
		t.Fatalf("unexpected tail:\n got %s\nwant %s", got, want)
	}
	last := events[len(events)-1]
	if last.Result == nil || last.Result.Message != "done" {
		t.Fatalf("complete event must carry the result, got %+v", last)
	}
}

func TestStreamSingleErrorEvent(t *testing.T) {
	gen := newScripted(nil)
	gen.err = generator.ErrAllProvidersFailed
	e := newTestEngine(t, gen)
	s := NewStreamer(e, WithHeartbeat(time.Hour))

	events := collect(s.Stream(context.Background(), Request{Instruction: "x"}))
	errorsSeen, completes := 0, 0
	for _, ev := range events {
		switch ev.Type {
		case EventError:
			errorsSeen++
		case EventComplete:
			completes++
		}
	}
	if errorsSeen != 1 || completes != 0 {
		t.Fatalf("expected exactly one error and no complete, got %+v", events)
	}
	if last := events[len(events)-1]; last.Type != EventError || !strings.Contains(last.Error, generator.ErrAllProvidersFailed.Error()) {
		t.Fatalf("error must be terminal, got %+v", last)
	}
}

func TestStreamPanicBecomesError(t *testing.T) {
	adv := advanceFunc(func(context.Context, Request) (Result, error) { panic("boom") })
	events := collect(NewStreamer(adv).Stream(context.Background(), Request{}))
	if last := events[len(events)-1]; last.Type != EventError {
		t.Fatalf("expected error event, got %+v", events)
	}
}

func TestStreamStopsWhenClientLeaves(t *testing.T) {
	finished := make(chan error, 1)
	adv := advanceFunc(func(ctx context.Context, _ Request) (Result, error) {
		time.Sleep(30 * time.Millisecond)
		finished <- ctx.Err()
		return Result{Phase: PhaseExecute}, nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	ch := NewStreamer(adv, WithHeartbeat(time.Hour)).Stream(ctx, Request{})
	<-ch // phase_update
	cancel()
	for range ch {
	}
	select {
	case err := <-finished:
		if err != nil {
			t.Fatalf("background advance must not be cancelled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("background advance did not finish")
	}
}

func TestSplitChunks(t *testing.T) {
	got := splitChunks("héllo wörld", 4)
	if strings.Join(got, "|") != "héll|o wö|rld" {
		t.Fatalf("unexpected chunks %q", got)
	}
	if splitChunks("", 4) != nil {
		t.Fatalf("empty content has no chunks")
	}
}

func TestPhaseMessageCoversPhases(t *testing.T) {
	for _, p := range []Phase{PhasePlan, PhaseAwaitingAnswers, PhaseExecute, PhaseReview, PhasePostprocess, PhaseComplete} {
		if phaseMessage(p) == "Working..." {
			t.Fatalf("phase %s has no message", p)
		}
	}
}
