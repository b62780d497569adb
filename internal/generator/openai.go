// Package generator adapts OpenAI chat completions to the turn-generator
// boundary: every model output is normalized into the single tagged
// Fragment{Role, Content} shape before it reaches the router.
package generator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kaviohq/onboardd/internal/turn"
)

// historyCap bounds the per-session context window kept in memory. The
// history is a working cache, never the source of truth for the session.
const historyCap = 40

const defaultPlannerPrompt = `You are the planning step of an employee onboarding assistant.
Given the conversation so far and the latest user message, produce a short
plan for what the assistant should say or collect next. Output the plan
only; the user never sees it.`

const defaultResponderPrompt = `You are an employee onboarding assistant chatting over a messaging app.
Follow the plan you are given. Be brief and friendly, ask for one thing at
a time, and write in the user's language. When every onboarding item has
been collected, say goodbye and append the word %s on its own line.`

const defaultFinalizerPrompt = `The onboarding conversation is complete. Summarize the collected data as a
fenced json code block with one field per collected item, then append the
word %s.`

// Config configures the adapter.
type Config struct {
	APIKey          string
	Model           string
	Marker          string
	PlannerPrompt   string
	ResponderPrompt string
	FinalizerPrompt string
	Logger          *slog.Logger
}

// Client drives a fixed planner -> responder (-> finalizer) sequence per
// turn and implements turn.Generator.
type Client struct {
	api    *openai.Client
	model  string
	marker string

	plannerPrompt   string
	responderPrompt string
	finalizerPrompt string
	logger          *slog.Logger

	mu      sync.Mutex
	history map[string][]openai.ChatCompletionMessage
}

// NewClient creates the adapter.
func NewClient(cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.PlannerPrompt == "" {
		cfg.PlannerPrompt = defaultPlannerPrompt
	}
	if cfg.ResponderPrompt == "" {
		cfg.ResponderPrompt = fmt.Sprintf(defaultResponderPrompt, cfg.Marker)
	}
	if cfg.FinalizerPrompt == "" {
		cfg.FinalizerPrompt = fmt.Sprintf(defaultFinalizerPrompt, cfg.Marker)
	}
	return &Client{
		api:             openai.NewClient(cfg.APIKey),
		model:           cfg.Model,
		marker:          strings.ToUpper(cfg.Marker),
		plannerPrompt:   cfg.PlannerPrompt,
		responderPrompt: cfg.ResponderPrompt,
		finalizerPrompt: cfg.FinalizerPrompt,
		logger:          cfg.Logger,
		history:         make(map[string][]openai.ChatCompletionMessage),
	}
}

// GenerateTurn runs one turn. The fragment channel is closed when the
// sequence ends; mid-stream failures surface through Stream.Err.
func (c *Client) GenerateTurn(ctx context.Context, sess turn.SessionContext, input string) (*turn.Stream, error) {
	fragments := make(chan turn.Fragment, 4)
	stream, fail := turn.NewStream(fragments)

	go func() {
		defer close(fragments)
		if err := c.runSequence(ctx, sess, input, fragments); err != nil {
			fail(err)
		}
	}()
	return stream, nil
}

func (c *Client) runSequence(ctx context.Context, sess turn.SessionContext, input string, out chan<- turn.Fragment) error {
	emit := func(role turn.Role, content string) bool {
		select {
		case out <- turn.Fragment{Role: role, Content: content}:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !emit(turn.RoleUser, input) {
		return ctx.Err()
	}

	past := c.snapshot(sess.SessionKey)

	plan, err := c.complete(ctx, c.plannerPrompt, past, input)
	if err != nil {
		return fmt.Errorf("planner completion: %w", err)
	}
	if !emit(turn.RolePlanner, plan) {
		return ctx.Err()
	}

	reply, err := c.complete(ctx, c.responderPrompt, past,
		fmt.Sprintf("%s\n\nPlan:\n%s", input, plan))
	if err != nil {
		return fmt.Errorf("responder completion: %w", err)
	}
	if !emit(turn.RoleResponder, reply) {
		return ctx.Err()
	}

	c.remember(sess.SessionKey, input, reply)

	// The finalizer only runs once the responder signals completion. Its
	// output carries the fenced payload the tracker extracts.
	if c.marker != "" && strings.Contains(strings.ToUpper(reply), c.marker) {
		summary, err := c.complete(ctx, c.finalizerPrompt, c.snapshot(sess.SessionKey), "Summarize the conversation.")
		if err != nil {
			return fmt.Errorf("finalizer completion: %w", err)
		}
		if !emit(turn.RoleFinalizer, summary) {
			return ctx.Err()
		}
	}
	return nil
}

func (c *Client) complete(ctx context.Context, system string, past []openai.ChatCompletionMessage, user string) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(past)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: system,
	})
	messages = append(messages, past...)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: user,
	})

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *Client) snapshot(sessionKey string) []openai.ChatCompletionMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	past := c.history[sessionKey]
	out := make([]openai.ChatCompletionMessage, len(past))
	copy(out, past)
	return out
}

func (c *Client) remember(sessionKey, input, reply string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := append(c.history[sessionKey],
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: input},
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: reply},
	)
	if len(h) > historyCap {
		h = h[len(h)-historyCap:]
	}
	c.history[sessionKey] = h
}

// Forget drops the in-memory context for a retired session.
func (c *Client) Forget(sessionKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.history, sessionKey)
}

// Ping verifies API reachability for the health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("openai unreachable: %w", err)
	}
	return nil
}
