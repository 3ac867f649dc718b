// Package cli implements the local-CLI-subprocess engine adapter: a run
// is one invocation of an external command-line agent binary, grounded
// on the teacher's os/exec shell-tool pattern (internal/tools/shell.go)
// but scoped to the engine-adapter ABI: stdout lines become Delta
// events, process exit becomes Completed.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/agentcore/internal/engine"
)

// CommandBuilder produces the shell command line to run for one turn,
// given the job text and resume value (empty if starting fresh).
type CommandBuilder func(jobText, resumeValue, cwd string) string

var resumePattern = regexp.MustCompile(`^session[:=]([A-Za-z0-9_-]+)`)

// Engine drives an external CLI agent via os/exec.CommandContext(ctx,
// "sh", "-c", command), registered under id.
type Engine struct {
	id      string
	build   CommandBuilder
	workdir string

	mu      sync.Mutex
	handles map[string]*runHandle
}

type runHandle struct {
	id     string
	cancel context.CancelFunc
}

func (h *runHandle) ID() string { return h.id }

// New constructs a CLI engine adapter identified by id, building each
// turn's shell command via build.
func New(id string, build CommandBuilder) *Engine {
	return &Engine{id: id, build: build, handles: make(map[string]*runHandle)}
}

func (e *Engine) ID() string          { return e.id }
func (e *Engine) SupportsSteer() bool { return false }

func (e *Engine) ExtractResume(text string) (*engine.ResumeToken, bool) {
	m := resumePattern.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}
	return &engine.ResumeToken{EngineID: e.id, Value: m[1]}, true
}

func (e *Engine) FormatResume(token engine.ResumeToken) string {
	return fmt.Sprintf("session:%s", token.Value)
}

func (e *Engine) StartRun(ctx context.Context, jobText string, resume *engine.ResumeToken, opts engine.RunOpts, sink engine.Sink) (engine.RunHandle, error) {
	resumeValue := ""
	if resume != nil {
		resumeValue = resume.Value
	}

	command := e.build(jobText, resumeValue, opts.Cwd)

	runCtx, cancel := context.WithCancel(ctx)
	id := uuid.NewString()
	h := &runHandle{id: id, cancel: cancel}

	e.mu.Lock()
	e.handles[id] = h
	e.mu.Unlock()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	if opts.Cwd != "" {
		cmd.Dir = opts.Cwd
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("cli engine %s: stdout pipe: %w", e.id, err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("cli engine %s: start: %w", e.id, err)
	}

	sink.Emit(engine.Event{
		Kind:     engine.EventStarted,
		EngineID: e.id,
		Resume:   &engine.ResumeToken{EngineID: e.id, Value: id},
	})

	go func() {
		defer func() {
			e.mu.Lock()
			delete(e.handles, id)
			e.mu.Unlock()
		}()

		var seq atomic.Uint64
		var answer strings.Builder

		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			answer.WriteString(line)
			answer.WriteString("\n")
			sink.Emit(engine.Event{Kind: engine.EventDelta, Seq: seq.Add(1), Text: line + "\n"})
		}

		waitErr := cmd.Wait()
		if waitErr != nil && runCtx.Err() != nil {
			sink.Emit(engine.Event{Kind: engine.EventCompleted, OK: false, Err: fmt.Errorf("cancelled")})
			return
		}
		if waitErr != nil {
			sink.Emit(engine.Event{Kind: engine.EventCompleted, OK: false, Err: fmt.Errorf("cli engine %s: %w", e.id, waitErr)})
			return
		}

		sink.Emit(engine.Event{
			Kind:   engine.EventCompleted,
			OK:     true,
			Answer: strings.TrimSpace(answer.String()),
			Resume: &engine.ResumeToken{EngineID: e.id, Value: id},
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
