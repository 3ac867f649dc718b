// Package native implements "lemon", the default in-process engine
// adapter. It runs entirely within this process — no subprocess, no
// outbound network call — by driving a pluggable Responder that
// produces the text and tool actions for a turn, grounded on the
// teacher's in-process agent loop (internal/agent/loop.go) but
// simplified to the engine-adapter ABI's surface.
package native

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/agentcore/internal/engine"
)

// Responder produces a final answer (and optionally intermediate
// actions) for one turn of text. Tests and the gateway's default wiring
// use EchoResponder; a real deployment plugs in its own model client
// here without touching the engine ABI.
type Responder interface {
	Respond(ctx context.Context, text string, emit func(engine.Event)) (answer string, err error)
}

// EchoResponder is a deterministic Responder that streams the input
// text back in fixed-size chunks, used for local testing and as the
// zero-configuration default.
type EchoResponder struct {
	ChunkSize int
}

func (r EchoResponder) Respond(ctx context.Context, text string, emit func(engine.Event)) (string, error) {
	chunkSize := r.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 8
	}
	var seq uint64
	for i := 0; i < len(text); i += chunkSize {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}
		end := i + chunkSize
		if end > len(text) {
			end = len(text)
		}
		seq++
		emit(engine.Event{Kind: engine.EventDelta, Seq: seq, Text: text[i:end]})
	}
	return text, nil
}

var resumePattern = regexp.MustCompile(`^lemon:([A-Za-z0-9-]+)$`)

// Engine is the native in-process engine adapter, registered under id
// "lemon" (spec §4.2's system default engine).
type Engine struct {
	responder Responder

	mu      sync.Mutex
	handles map[string]*runHandle
}

type runHandle struct {
	id     string
	cancel context.CancelFunc
}

func (h *runHandle) ID() string { return h.id }

// New constructs a native engine driven by responder. A nil responder
// defaults to EchoResponder{}.
func New(responder Responder) *Engine {
	if responder == nil {
		responder = EchoResponder{}
	}
	return &Engine{responder: responder, handles: make(map[string]*runHandle)}
}

func (e *Engine) ID() string          { return "lemon" }
func (e *Engine) SupportsSteer() bool { return false }

func (e *Engine) ExtractResume(text string) (*engine.ResumeToken, bool) {
	m := resumePattern.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}
	return &engine.ResumeToken{EngineID: e.ID(), Value: m[1]}, true
}

func (e *Engine) FormatResume(token engine.ResumeToken) string {
	return fmt.Sprintf("lemon:%s", token.Value)
}

func (e *Engine) StartRun(ctx context.Context, jobText string, resume *engine.ResumeToken, opts engine.RunOpts, sink engine.Sink) (engine.RunHandle, error) {
	runCtx, cancel := context.WithCancel(ctx)
	id := uuid.NewString()
	h := &runHandle{id: id, cancel: cancel}

	e.mu.Lock()
	e.handles[id] = h
	e.mu.Unlock()

	resumeValue := id
	if resume != nil {
		resumeValue = resume.Value
	}

	sink.Emit(engine.Event{
		Kind:     engine.EventStarted,
		EngineID: e.ID(),
		Resume:   &engine.ResumeToken{EngineID: e.ID(), Value: resumeValue},
	})

	var seqCounter atomic.Uint64
	emit := func(ev engine.Event) {
		if ev.Kind == engine.EventDelta && ev.Seq == 0 {
			ev.Seq = seqCounter.Add(1)
		}
		sink.Emit(ev)
	}

	go func() {
		defer func() {
			e.mu.Lock()
			delete(e.handles, id)
			e.mu.Unlock()
		}()

		answer, err := e.responder.Respond(runCtx, jobText, emit)
		if err != nil {
			sink.Emit(engine.Event{Kind: engine.EventCompleted, OK: false, Err: err})
			return
		}
		sink.Emit(engine.Event{
			Kind:   engine.EventCompleted,
			OK:     true,
			Answer: answer,
			Resume: &engine.ResumeToken{EngineID: e.ID(), Value: id},
		})
	}()

	return h, nil
}

func (e *Engine) Cancel(handle engine.RunHandle, reason string) {
	e.mu.Lock()
	h, ok := e.handles[handle.ID()]
	e.mu.Unlock()
	if ok {
		h.cancel()
	}
}

func (e *Engine) Steer(handle engine.RunHandle, text string) error {
	return engine.ErrSteerUnsupported
}
