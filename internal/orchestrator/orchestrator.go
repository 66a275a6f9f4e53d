// Package orchestrator runs one conversation step: it frames retrieved
// evidence for the model, makes a single completion call and reads the
// reply into a BotMessage.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/opencopilot/copilot/internal/extract"
	"github.com/opencopilot/copilot/internal/llm"
	xlog "github.com/opencopilot/copilot/internal/log"
	"github.com/opencopilot/copilot/internal/metrics"
	"github.com/opencopilot/copilot/internal/prompts"
)

// ErrSessionRequired is returned before any work when the session id is empty.
var ErrSessionRequired = errors.New("session id must be defined for chat conversations")

type Orchestrator struct {
	llm     llm.Completer
	parser  Parser
	prompts *prompts.Registry
	guard   *Guard
	logger  zerolog.Logger
}

type Option func(*Orchestrator)

func WithParser(p Parser) Option { return func(o *Orchestrator) { o.parser = p } }

func WithGuard(g *Guard) Option { return func(o *Orchestrator) { o.guard = g } }

func WithLogger(l zerolog.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

func New(completer llm.Completer, reg *prompts.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		llm:     completer,
		parser:  DefaultParser,
		prompts: reg,
		guard:   NewGuard(),
		logger:  xlog.WithComponent("orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ProcessStep returns the BotMessage for one user turn. It only fails
// for a missing session id or a failed completion call; unreadable model
// output still yields a message.
func (o *Orchestrator) ProcessStep(ctx context.Context, in StepInput) (BotMessage, error) {
	d, err := o.Step(ctx, in)
	if err != nil {
		return BotMessage{}, err
	}
	return d.Message, nil
}

// Step is ProcessStep returning the tagged decision.
func (o *Orchestrator) Step(ctx context.Context, in StepInput) (Decision, error) {
	if in.SessionID == "" {
		return Decision{}, ErrSessionRequired
	}

	ctx, span := otel.Tracer("copilot/orchestrator").Start(ctx, "orchestrator.step")
	defer span.End()
	span.SetAttributes(
		attribute.String("bot.id", in.BotID),
		attribute.Bool("evidence.context", in.Context != ""),
		attribute.Int("evidence.apis", len(in.APISummaries)),
		attribute.Int("evidence.flows", len(in.Flows)),
		attribute.Int("history.len", len(in.History)),
	)
	start := time.Now()
	defer func() { metrics.StepDuration.Observe(time.Since(start).Seconds()) }()

	msgs := o.buildMessages(in)
	resp, err := o.guard.Complete(ctx, o.llm, &llm.CompletionRequest{Messages: msgs})
	if err != nil {
		metrics.StepDecisions.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Decision{}, fmt.Errorf("completion: %w", err)
	}

	d := o.decide(resp.Content)
	metrics.StepDecisions.WithLabelValues(d.Kind.String()).Inc()
	span.SetAttributes(attribute.String("decision.kind", d.Kind.String()), attribute.Int("decision.ids", len(d.Message.IDs)))

	o.logger.Debug().
		Str(xlog.FieldSessionID, in.SessionID).
		Str(xlog.FieldBotID, in.BotID).
		Stringer("kind", d.Kind).
		Strs("ids", d.Message.IDs).
		Msg("conversation step decided")
	return d, nil
}

func (o *Orchestrator) systemMessage(in StepInput) string {
	if in.App != "" {
		if s := o.prompts.ForBot(in.BotID).SystemMessage; s != "" {
			return s
		}
	}
	return defaultSystemMessage
}

func (o *Orchestrator) buildMessages(in StepInput) []llm.Message {
	msgs := make([]llm.Message, 0, len(in.History)+5)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: o.systemMessage(in)})
	msgs = append(msgs, in.History...)

	if ev, ok := evidenceMessage(in.Context, in.APISummaries, in.Flows); ok {
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: ev})
	}

	msgs = append(msgs,
		llm.Message{Role: llm.RoleUser, Content: jsonInstruction},
		llm.Message{Role: llm.RoleUser, Content: clarifyInstruction},
		llm.Message{Role: llm.RoleUser, Content: in.Text},
	)
	return msgs
}

// decide never fails. A reply of the wrong shape is passed through as
// text; any other parser failure, panics included, becomes the text.
func (o *Orchestrator) decide(text string) (d Decision) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().Interface("panic", r).Msg("parser panicked")
			d = unstructured(text, fmt.Sprint(r))
		}
	}()

	bm, err := o.parser.Parse(text)
	switch {
	case err == nil:
		if bm.IDs == nil {
			bm.IDs = []string{}
		}
		return Decision{Kind: Structured, Message: bm, Raw: text}
	case errors.Is(err, extract.ErrOutputShape):
		o.logger.Warn().Err(err).Msg("model reply did not match bot message shape")
		return unstructured(text, text)
	default:
		o.logger.Error().Err(err).Msg("unexpected error parsing model reply")
		return unstructured(text, err.Error())
	}
}

func unstructured(raw, reply string) Decision {
	return Decision{Kind: Unstructured, Message: BotMessage{IDs: []string{}, Text: reply}, Raw: raw}
}
