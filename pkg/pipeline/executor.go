package pipeline

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pandalabs/go-panda/internal/config"
	"github.com/pandalabs/go-panda/internal/log"
	"github.com/pandalabs/go-panda/pkg/gateway"
	"github.com/pandalabs/go-panda/pkg/protocol"
	"github.com/pandalabs/go-panda/pkg/registry"
	"github.com/pandalabs/go-panda/pkg/router"
)

// DefaultRetrieveLimit bounds how many memory snippets are pulled per
// generation.
const DefaultRetrieveLimit = 5

// Utterance is one inbound user turn: text, or audio to be transcribed.
type Utterance struct {
	Text  string
	Audio []byte
}

// Deps wires the executor to its collaborators and core components.
type Deps struct {
	Publisher Publisher
	Gateway   *gateway.Gateway
	Registry  *registry.Registry
	Router    *router.Router

	// Retriever is optional; without one, generations run with no
	// memory context.
	Retriever Retriever

	// Generator handles model-target generations.
	Generator Generator

	// Synthesize toggles the speech stage. The TTS engine itself comes
	// out of the registry on demand.
	Synthesize bool

	Timeouts      config.StageTimeouts
	RetrieveLimit int
}

// Executor runs pipeline stages in fixed order for one generation at a
// time. It is stateless across runs and safe for concurrent use.
type Executor struct {
	logger *slog.Logger
	deps   Deps
}

// New creates an Executor.
func New(deps Deps) *Executor {
	if deps.RetrieveLimit <= 0 {
		deps.RetrieveLimit = DefaultRetrieveLimit
	}
	return &Executor{
		logger: log.Component("pipeline"),
		deps:   deps,
	}
}

// Run executes one generation. The context is the generation's cancel
// token: it is checked before every stage, and a cancelled run emits a
// terminal cancelled STATUS chunk and stops. Every run ends in exactly
// one terminal chunk.
func (e *Executor) Run(ctx context.Context, sessionID string, generation uint64, utt Utterance) {
	em := newEmitter(e.deps.Publisher, sessionID, generation)
	logger := e.logger.With("session", sessionID, "generation", generation)

	text := utt.Text

	// Stage: transcribe (audio input only).
	if len(utt.Audio) > 0 {
		if ctx.Err() != nil {
			em.cancelled()
			return
		}
		err := e.stage(ctx, em, logger, "transcribe", e.deps.Timeouts.Transcribe, func(sctx context.Context) error {
			out, err := e.transcribe(sctx, utt.Audio)
			if err != nil {
				return err
			}
			text = out
			return nil
		})
		if e.finish(ctx, em, logger, "transcribe", err) {
			return
		}
		em.transcript(text)
	}

	// Stage: retrieve context.
	var snippets []Snippet
	if e.deps.Retriever != nil {
		if ctx.Err() != nil {
			em.cancelled()
			return
		}
		err := e.stage(ctx, em, logger, "retrieve", e.deps.Timeouts.Retrieve, func(sctx context.Context) error {
			out, err := e.deps.Retriever.Search(sctx, text, e.deps.RetrieveLimit)
			if err != nil {
				return err
			}
			snippets = out
			return nil
		})
		if e.finish(ctx, em, logger, "retrieve", err) {
			return
		}
	}

	// Stage: route. Local deterministic logic, no collaborator call.
	if ctx.Err() != nil {
		em.cancelled()
		return
	}
	decision := e.deps.Router.Route(text)
	em.routing(string(decision.Target), decision.Agent, decision.Confidence)
	logger.Debug("routed utterance", "target", decision.Target, "agent", decision.Agent)

	// Stage: generate.
	var spoken string
	var err error
	switch decision.Target {
	case router.TargetLocal:
		answer, ok := router.LocalAnswer(decision.Intent, time.Now())
		if !ok {
			spoken, err = e.generateModel(ctx, em, logger, text, snippets)
			break
		}
		em.text(answer)
		spoken = answer
	case router.TargetAgent:
		spoken, err = e.generateAgent(ctx, em, logger, decision.Agent, router.StripCommand(text))
	default:
		spoken, err = e.generateModel(ctx, em, logger, router.StripCommand(text), snippets)
	}
	if e.finish(ctx, em, logger, "generate", err) {
		return
	}

	// Stage: synthesize speech.
	if e.deps.Synthesize && strings.TrimSpace(spoken) != "" {
		if ctx.Err() != nil {
			em.cancelled()
			return
		}
		err := e.stage(ctx, em, logger, "synthesize", e.deps.Timeouts.Synthesize, func(sctx context.Context) error {
			return e.synthesize(sctx, em, spoken)
		})
		if e.finish(ctx, em, logger, "synthesize", err) {
			return
		}
	}

	em.done()
}

// stage runs fn under its own deadline with the transient-retry policy:
// a transient failure surfaces one non-terminal ERROR chunk and earns a
// single fresh attempt; anything else escapes immediately.
func (e *Executor) stage(ctx context.Context, em *emitter, logger *slog.Logger, name string, timeout time.Duration, fn func(context.Context) error) error {
	run := func() error {
		sctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return fn(sctx)
	}

	err := run()
	if err == nil || ctx.Err() != nil {
		return err
	}
	if classify(err) != protocol.ErrKindTransient {
		return err
	}

	em.errorChunk(protocol.ErrKindTransient, err, false)
	logger.Warn("stage failed, retrying once", "stage", name, "error", err)

	return run()
}

// finish handles a stage outcome. Reports true when the run is over:
// either the generation was cancelled (terminal cancelled STATUS) or the
// stage error escaped (terminal ERROR chunk).
func (e *Executor) finish(ctx context.Context, em *emitter, logger *slog.Logger, name string, err error) bool {
	if ctx.Err() != nil {
		em.cancelled()
		logger.Debug("generation cancelled", "stage", name)
		return true
	}
	if err == nil {
		return false
	}
	kind := classify(err)
	em.errorChunk(kind, err, true)
	logger.Error("generation failed", "stage", name, "kind", kind, "error", err)
	return true
}

// transcribe runs the STT engine under its exclusive slot.
func (e *Executor) transcribe(ctx context.Context, audio []byte) (string, error) {
	h, err := e.deps.Registry.Acquire(ctx, registry.KindSTT)
	if err != nil {
		return "", err
	}
	var text string
	err = e.deps.Registry.WithExclusive(ctx, h, func(instance any) error {
		t, ok := instance.(Transcriber)
		if !ok {
			return fmt.Errorf("pipeline: %s instance is not a Transcriber", registry.KindSTT)
		}
		out, err := t.Transcribe(ctx, audio)
		if err != nil {
			return err
		}
		text = out
		return nil
	})
	return text, err
}

// agentReply is the common response shape of the agent /query endpoint.
type agentReply struct {
	Response string `json:"response"`
}

// generateAgent asks a remote agent through the gateway and emits its
// reply as a single TEXT chunk.
func (e *Executor) generateAgent(ctx context.Context, em *emitter, logger *slog.Logger, agent, query string) (string, error) {
	var reply agentReply
	err := e.stage(ctx, em, logger, "generate", e.deps.Timeouts.Generate, func(sctx context.Context) error {
		resp, err := e.deps.Gateway.Call(sctx, agent, &gateway.Request{
			Method: "POST",
			Path:   "/query",
			Body:   map[string]string{"query": query},
		})
		if err != nil {
			return err
		}
		return resp.JSON(&reply)
	})
	if err != nil {
		return "", err
	}
	em.text(reply.Response)
	return reply.Response, nil
}

// generateModel streams token batches from the language model, emitting
// one TEXT chunk per batch as it arrives.
//
// A transient failure mid-stream restarts the response: observers see
// the partial TEXT, a non-terminal ERROR, then the retry's TEXT from the
// top. The non-terminal ERROR is the signal to discard TEXT received
// earlier in the stage — the retry is a fresh model response and may not
// share a prefix with the aborted one, so the delivered portion cannot
// simply be skipped.
func (e *Executor) generateModel(ctx context.Context, em *emitter, logger *slog.Logger, prompt string, snippets []Snippet) (string, error) {
	if e.deps.Generator == nil {
		return "", fmt.Errorf("pipeline: no generator configured")
	}

	var full strings.Builder
	err := e.stage(ctx, em, logger, "generate", e.deps.Timeouts.Generate, func(sctx context.Context) error {
		full.Reset() // a retry starts the response over
		stream, err := e.deps.Generator.Generate(sctx, prompt, snippets)
		if err != nil {
			return err
		}
		defer stream.Close()

		for {
			if sctx.Err() != nil {
				return sctx.Err()
			}
			batch, err := stream.Recv()
			if err != nil {
				return err
			}
			if batch == nil || batch.Done {
				return nil
			}
			if batch.Text != "" {
				em.text(batch.Text)
				full.WriteString(batch.Text)
			}
		}
	})
	return full.String(), err
}

// synthesize runs the TTS engine under its exclusive slot, emitting one
// AUDIO chunk per segment as it becomes available.
func (e *Executor) synthesize(ctx context.Context, em *emitter, text string) error {
	h, err := e.deps.Registry.Acquire(ctx, registry.KindTTS)
	if err != nil {
		return err
	}
	return e.deps.Registry.WithExclusive(ctx, h, func(instance any) error {
		s, ok := instance.(Synthesizer)
		if !ok {
			return fmt.Errorf("pipeline: %s instance is not a Synthesizer", registry.KindTTS)
		}
		stream, err := s.Synthesize(ctx, text)
		if err != nil {
			return err
		}
		defer stream.Close()

		for {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			seg, err := stream.Read()
			if err != nil {
				return err
			}
			if seg == nil || len(seg.Data) == 0 {
				return nil
			}
			em.audio(seg, base64.StdEncoding.EncodeToString(seg.Data))
		}
	})
}
