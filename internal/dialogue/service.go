package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Vovarama1992/whatsapp-ai-bridge/internal/ai"
	"github.com/Vovarama1992/whatsapp-ai-bridge/internal/transcript"
	"github.com/Vovarama1992/whatsapp-ai-bridge/internal/worker"
)

const (
	ErrorReply     = "I'm sorry, I encountered an error while processing your message. Please try again later."
	RunFailedReply = "I apologize, but I'm having trouble processing your request right now. Please try again."
)

var ErrInvalidMessage = errors.New("dialogue: identity and text are required")

// Sender delivers a reply to an identity on the messaging platform.
type Sender interface {
	SendText(ctx context.Context, to, text string) error
}

type State string

const (
	StateReceived        State = "received"
	StateTranscribing    State = "transcribing"
	StateResolving       State = "resolving"
	StateAwaitingBackend State = "awaiting_backend"
	StateReplying        State = "replying"
	StateDelivered       State = "delivered"
	StateDeliveryFailed  State = "delivery_failed"
)

func (s State) Terminal() bool {
	return s == StateDelivered || s == StateDeliveryFailed
}

// Job is one inbound utterance.
type Job struct {
	ID       string
	Identity string
	Text     string
	Received time.Time
}

// Outcome is what happened to a job. Errs holds every contained failure in
// the order they occurred.
type Outcome struct {
	JobID string
	State State
	Reply string
	Errs  []error
}

type Options struct {
	Workers   int
	QueueSize int
	Logger    *slog.Logger
}

// Service runs each utterance as an independent unit of work: transcribe,
// resolve the conversation, ask the backend, transcribe the reply, deliver.
type Service struct {
	registry   *Registry
	backend    ai.Backend
	transcript transcript.Appender
	sender     Sender
	pool       *worker.Pool[Job]
	logger     *slog.Logger
	now        func() time.Time
}

func NewService(backend ai.Backend, appender transcript.Appender, sender Sender, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		registry:   NewRegistry(backend),
		backend:    backend,
		transcript: appender,
		sender:     sender,
		logger:     logger.With("component", "dialogue"),
		now:        time.Now,
	}
	s.pool = worker.NewPool(opts.Workers, opts.QueueSize, s.run)
	return s
}

func (s *Service) Registry() *Registry { return s.registry }

// Handle queues an utterance and returns without waiting for the reply.
// ctx bounds only the wait for queue space.
func (s *Service) Handle(ctx context.Context, identity, text string) error {
	identity = transcript.Normalize(identity)
	if identity == "" || strings.TrimSpace(text) == "" {
		return ErrInvalidMessage
	}
	job := Job{
		ID:       uuid.NewString(),
		Identity: identity,
		Text:     text,
		Received: s.now(),
	}
	if err := s.pool.Submit(ctx, job); err != nil {
		return fmt.Errorf("dialogue: enqueue job %s: %w", job.ID, err)
	}
	s.logger.Debug("job queued", "job_id", job.ID, "identity", identity)
	return nil
}

// Shutdown stops intake and waits for queued jobs until ctx ends.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.pool.Shutdown(ctx)
}

func (s *Service) run(ctx context.Context, job Job) {
	out := s.Process(ctx, job)
	log := s.logger.With("job_id", job.ID, "identity", job.Identity, "state", out.State)
	if len(out.Errs) > 0 {
		log.Warn("job finished with errors", "err", errors.Join(out.Errs...))
		return
	}
	log.Info("job finished", "elapsed", s.now().Sub(job.Received).String())
}

// Process runs one job to a terminal state. Failures are recorded in the
// outcome and never returned or propagated as panics.
func (s *Service) Process(ctx context.Context, job Job) (out Outcome) {
	out = Outcome{JobID: job.ID, State: StateReceived}
	log := s.logger.With("job_id", job.ID, "identity", job.Identity)

	defer func() {
		if r := recover(); r != nil {
			log.Error("job panicked", "panic", r, "state", out.State)
			out.Errs = append(out.Errs, newError(KindInternal, job.Identity, fmt.Errorf("panic in %s: %v", out.State, r)))
			out.State = StateDeliveryFailed
		}
	}()

	out.State = StateTranscribing
	if err := s.record(ctx, job.Identity, transcript.RoleUser, job.Text); err != nil {
		log.Error("transcript write failed", "role", transcript.RoleUser, "err", err)
		out.Errs = append(out.Errs, err)
	}

	out.State = StateResolving
	reply, err := s.reply(ctx, job, &out)
	if err != nil {
		log.Error("backend failed", "kind", KindOf(err), "err", err)
		out.Errs = append(out.Errs, err)
	}
	out.Reply = reply

	out.State = StateReplying
	if err := s.record(ctx, job.Identity, transcript.RoleAssistant, reply); err != nil {
		log.Error("transcript write failed", "role", transcript.RoleAssistant, "err", err)
		out.Errs = append(out.Errs, err)
	}

	if err := s.sender.SendText(ctx, job.Identity, reply); err != nil {
		log.Error("delivery failed", "err", err)
		out.Errs = append(out.Errs, newError(KindDeliveryFailed, job.Identity, err))
		out.State = StateDeliveryFailed
		return out
	}
	out.State = StateDelivered
	return out
}

// reply always returns text to send; err says why it is an apology.
func (s *Service) reply(ctx context.Context, job Job, out *Outcome) (string, error) {
	handle, err := s.registry.Resolve(ctx, job.Identity)
	if err != nil {
		return ErrorReply, err
	}

	out.State = StateAwaitingBackend
	text, err := s.backend.Advance(ctx, handle, job.Text)
	switch {
	case err == nil:
		return text, nil
	case ai.IsRunFailure(err):
		return RunFailedReply, newError(KindBackendRunFailed, job.Identity, err)
	default:
		return ErrorReply, newError(KindBackendUnavailable, job.Identity, err)
	}
}

func (s *Service) record(ctx context.Context, identity string, role transcript.Role, text string) error {
	err := s.transcript.Append(ctx, transcript.Entry{
		Timestamp: s.now(),
		Identity:  identity,
		Role:      role,
		Text:      text,
	})
	if err != nil {
		return newError(KindTranscriptWriteFailed, identity, err)
	}
	return nil
}
