// Package remote implements the remote-API engine adapter: a run is one
// streaming Messages.NewStreaming call against the real Anthropic SDK
// (github.com/anthropics/anthropic-sdk-go), grounded on the SSE event
// handling the rest of the example pack shows for this SDK (as opposed
// to the teacher's own hand-rolled HTTP/SSE client), adapted to the
// engine-adapter ABI: text deltas become Delta events, tool-use blocks
// become Action events, stream completion becomes Completed.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/google/uuid"

	"github.com/nextlevelbuilder/agentcore/internal/engine"
)

var resumePattern = regexp.MustCompile(`^msg_[A-Za-z0-9]+$`)

// Config configures the remote engine adapter's Anthropic client.
type Config struct {
	ID           string
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxTokens    int64
	SystemPrompt string
}

// Engine is the remote API engine adapter, typically registered under
// id "claude".
type Engine struct {
	id     string
	client anthropic.Client
	cfg    Config

	mu      sync.Mutex
	handles map[string]*runHandle
}

type runHandle struct {
	id     string
	cancel context.CancelFunc
}

func (h *runHandle) ID() string { return h.id }

// New constructs a remote engine adapter from cfg. Returns an error if
// cfg.APIKey is empty, matching the pack's convention for provider
// constructors.
func New(cfg Config) (*Engine, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("remote engine %s: API key is required", cfg.ID)
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Engine{
		id:      cfg.ID,
		client:  anthropic.NewClient(opts...),
		cfg:     cfg,
		handles: make(map[string]*runHandle),
	}, nil
}

func (e *Engine) ID() string          { return e.id }
func (e *Engine) SupportsSteer() bool { return false }

func (e *Engine) ExtractResume(text string) (*engine.ResumeToken, bool) {
	m := resumePattern.FindString(strings.TrimSpace(text))
	if m == "" {
		return nil, false
	}
	return &engine.ResumeToken{EngineID: e.id, Value: m}, true
}

func (e *Engine) FormatResume(token engine.ResumeToken) string {
	return token.Value
}

func (e *Engine) StartRun(ctx context.Context, jobText string, resume *engine.ResumeToken, opts engine.RunOpts, sink engine.Sink) (engine.RunHandle, error) {
	model := e.cfg.DefaultModel
	if opts.Model != "" {
		model = opts.Model
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: e.cfg.MaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(jobText)),
		},
	}
	if e.cfg.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: e.cfg.SystemPrompt}}
	}

	runCtx, cancel := context.WithCancel(ctx)
	id := uuid.NewString()
	h := &runHandle{id: id, cancel: cancel}

	e.mu.Lock()
	e.handles[id] = h
	e.mu.Unlock()

	stream := e.client.Messages.NewStreaming(runCtx, params)

	sink.Emit(engine.Event{
		Kind:     engine.EventStarted,
		EngineID: e.id,
		Resume:   &engine.ResumeToken{EngineID: e.id, Value: id},
	})

	go e.consume(runCtx, id, stream, sink)

	return h, nil
}

func (e *Engine) consume(ctx context.Context, id string, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], sink engine.Sink) {
	defer func() {
		e.mu.Lock()
		delete(e.handles, id)
		e.mu.Unlock()
	}()

	var seq atomic.Uint64
	var answer strings.Builder
	var currentToolID, currentToolName string
	var currentToolInput strings.Builder
	var usage engine.Usage

	for stream.Next() {
		event := stream.Current()

		switch event.Type {
		case "message_start":
			ms := event.AsMessageStart()
			usage.InputTokens = int(ms.Message.Usage.InputTokens)

		case "content_block_start":
			cbs := event.AsContentBlockStart()
			if cbs.ContentBlock.Type == "tool_use" {
				toolUse := cbs.ContentBlock.AsToolUse()
				currentToolID = toolUse.ID
				currentToolName = toolUse.Name
				currentToolInput.Reset()
				sink.Emit(engine.Event{
					Kind:        engine.EventAction,
					ActionID:    currentToolID,
					ActionKind:  engine.ActionTool,
					ActionTitle: currentToolName,
					ActionPhase: engine.ActionStarted,
				})
			}

		case "content_block_delta":
			cbd := event.AsContentBlockDelta()
			switch cbd.Delta.Type {
			case "text_delta":
				if cbd.Delta.Text != "" {
					answer.WriteString(cbd.Delta.Text)
					sink.Emit(engine.Event{Kind: engine.EventDelta, Seq: seq.Add(1), Text: cbd.Delta.Text})
				}
			case "input_json_delta":
				if cbd.Delta.PartialJSON != "" {
					currentToolInput.WriteString(cbd.Delta.PartialJSON)
				}
			}

		case "content_block_stop":
			if currentToolID != "" {
				var pretty string
				if raw := currentToolInput.String(); raw != "" {
					var v any
					if json.Unmarshal([]byte(raw), &v) == nil {
						pretty = raw
					}
				}
				sink.Emit(engine.Event{
					Kind:         engine.EventAction,
					ActionID:     currentToolID,
					ActionKind:   engine.ActionTool,
					ActionTitle:  currentToolName,
					ActionDetail: pretty,
					ActionPhase:  engine.ActionCompleted,
					ActionOK:     true,
					HasActionOK:  true,
				})
				currentToolID = ""
				currentToolName = ""
			}

		case "message_delta":
			md := event.AsMessageDelta()
			if md.Usage.OutputTokens > 0 {
				usage.OutputTokens = int(md.Usage.OutputTokens)
			}

		case "message_stop":
			sink.Emit(engine.Event{
				Kind:   engine.EventCompleted,
				OK:     true,
				Answer: answer.String(),
				Usage:  usage,
				Resume: &engine.ResumeToken{EngineID: e.id, Value: id},
			})
			return
		}
	}

	if err := stream.Err(); err != nil {
		if ctx.Err() != nil {
			sink.Emit(engine.Event{Kind: engine.EventCompleted, OK: false, Err: fmt.Errorf("cancelled")})
			return
		}
		sink.Emit(engine.Event{Kind: engine.EventCompleted, OK: false, Err: fmt.Errorf("remote engine %s: %w", e.id, err)})
		return
	}

	sink.Emit(engine.Event{
		Kind:   engine.EventCompleted,
		OK:     true,
		Answer: answer.String(),
		Usage:  usage,
		Resume: &engine.ResumeToken{EngineID: e.id, Value: id},
	})
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
