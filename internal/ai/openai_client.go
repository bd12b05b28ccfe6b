package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultPollInterval    = time.Second
	defaultMaxPollInterval = 8 * time.Second
	defaultRunTimeout      = 60 * time.Second
	cancelRunTimeout       = 5 * time.Second
)

// assistantsAPI is the part of *openai.Client used by AssistantClient.
type assistantsAPI interface {
	CreateThread(ctx context.Context, request openai.ThreadRequest) (openai.Thread, error)
	CreateMessage(ctx context.Context, threadID string, request openai.MessageRequest) (openai.Message, error)
	CreateRun(ctx context.Context, threadID string, request openai.RunRequest) (openai.Run, error)
	RetrieveRun(ctx context.Context, threadID string, runID string) (openai.Run, error)
	CancelRun(ctx context.Context, threadID string, runID string) (openai.Run, error)
	ListMessage(ctx context.Context, threadID string, limit *int, order *string, after *string, before *string, runID *string) (openai.MessagesList, error)
}

type AssistantOptions struct {
	BaseURL         string
	PollInterval    time.Duration
	MaxPollInterval time.Duration
	RunTimeout      time.Duration
	Logger          *slog.Logger
}

// AssistantClient drives an OpenAI assistant: one thread per conversation,
// one run per user utterance.
type AssistantClient struct {
	api         assistantsAPI
	assistantID string

	pollInterval    time.Duration
	maxPollInterval time.Duration
	runTimeout      time.Duration
	logger          *slog.Logger
}

func NewAssistantClient(apiKey, assistantID string, opts AssistantOptions) (*AssistantClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("%w: api key is empty", ErrNotConfigured)
	}
	cfg := openai.DefaultConfig(apiKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	return newAssistantClient(openai.NewClientWithConfig(cfg), assistantID, opts)
}

func newAssistantClient(api assistantsAPI, assistantID string, opts AssistantOptions) (*AssistantClient, error) {
	if strings.TrimSpace(assistantID) == "" {
		return nil, fmt.Errorf("%w: assistant id is empty", ErrNotConfigured)
	}
	c := &AssistantClient{
		api:             api,
		assistantID:     assistantID,
		pollInterval:    opts.PollInterval,
		maxPollInterval: opts.MaxPollInterval,
		runTimeout:      opts.RunTimeout,
		logger:          opts.Logger,
	}
	if c.pollInterval <= 0 {
		c.pollInterval = defaultPollInterval
	}
	if c.maxPollInterval < c.pollInterval {
		c.maxPollInterval = max(defaultMaxPollInterval, c.pollInterval)
	}
	if c.runTimeout <= 0 {
		c.runTimeout = defaultRunTimeout
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "assistant")
	return c, nil
}

func (c *AssistantClient) CreateConversation(ctx context.Context) (string, error) {
	thread, err := c.api.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return "", fmt.Errorf("ai: create thread: %w", err)
	}
	if thread.ID == "" {
		return "", errors.New("ai: create thread: empty thread id")
	}
	c.logger.Debug("thread created", "thread_id", thread.ID)
	return thread.ID, nil
}

func (c *AssistantClient) Advance(ctx context.Context, threadID, text string) (string, error) {
	_, err := c.api.CreateMessage(ctx, threadID, openai.MessageRequest{
		Role:    openai.ChatMessageRoleUser,
		Content: text,
	})
	if err != nil {
		return "", fmt.Errorf("ai: add message to thread %s: %w", threadID, err)
	}

	run, err := c.api.CreateRun(ctx, threadID, openai.RunRequest{AssistantID: c.assistantID})
	if err != nil {
		return "", fmt.Errorf("ai: start run on thread %s: %w", threadID, err)
	}
	c.logger.Debug("run started", "thread_id", threadID, "run_id", run.ID, "status", run.Status)

	run, err = c.awaitRun(ctx, threadID, run)
	if err != nil {
		return "", err
	}
	return c.latestReply(ctx, threadID, run.ID)
}

func isPending(s openai.RunStatus) bool {
	switch s {
	case openai.RunStatusQueued, openai.RunStatusInProgress, openai.RunStatusCancelling:
		return true
	}
	return false
}

// nextDelay doubles the poll delay up to the configured ceiling.
func (c *AssistantClient) nextDelay(d time.Duration) time.Duration {
	return min(2*d, c.maxPollInterval)
}

// awaitRun polls until the run leaves the pending statuses or runTimeout
// elapses. A timed-out run is cancelled so the thread accepts new messages.
func (c *AssistantClient) awaitRun(ctx context.Context, threadID string, run openai.Run) (openai.Run, error) {
	pollCtx, cancel := context.WithTimeout(ctx, c.runTimeout)
	defer cancel()

	delay := c.pollInterval
	for isPending(run.Status) {
		timer := time.NewTimer(delay)
		select {
		case <-pollCtx.Done():
			timer.Stop()
			return run, c.abandonRun(ctx, threadID, run)
		case <-timer.C:
		}

		next, err := c.api.RetrieveRun(pollCtx, threadID, run.ID)
		if err != nil {
			if pollCtx.Err() != nil {
				return run, c.abandonRun(ctx, threadID, run)
			}
			return run, fmt.Errorf("ai: retrieve run %s: %w", run.ID, err)
		}
		run = next
		delay = c.nextDelay(delay)
	}

	if run.Status != openai.RunStatusCompleted {
		return run, &RunFailedError{RunID: run.ID, Status: string(run.Status)}
	}
	return run, nil
}

func (c *AssistantClient) abandonRun(ctx context.Context, threadID string, run openai.Run) error {
	cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelRunTimeout)
	defer cancel()
	if _, err := c.api.CancelRun(cancelCtx, threadID, run.ID); err != nil {
		c.logger.Warn("cancel run failed", "thread_id", threadID, "run_id", run.ID, "err", err)
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("ai: run %s abandoned: %w", run.ID, err)
	}
	return fmt.Errorf("%w: run %s still %s after %s", ErrRunTimeout, run.ID, run.Status, c.runTimeout)
}

func (c *AssistantClient) latestReply(ctx context.Context, threadID, runID string) (string, error) {
	limit := 1
	order := "desc"
	list, err := c.api.ListMessage(ctx, threadID, &limit, &order, nil, nil, &runID)
	if err != nil {
		return "", fmt.Errorf("ai: list messages for run %s: %w", runID, err)
	}

	for _, m := range list.Messages {
		if m.Role != openai.ChatMessageRoleAssistant {
			continue
		}
		for _, part := range m.Content {
			if part.Text != nil && strings.TrimSpace(part.Text.Value) != "" {
				return part.Text.Value, nil
			}
		}
	}
	return "", fmt.Errorf("%w (run %s)", ErrEmptyReply, runID)
}
