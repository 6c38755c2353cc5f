// Package agent runs Zudu conversations. Each user turn is answered by an
// Eino ReAct agent after the knowledge-base context for the turn has been
// retrieved and injected ahead of the conversation history.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	einoagent "github.com/cloudwego/eino/flow/agent"
	"github.com/cloudwego/eino/flow/agent/react"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/54b3r/zudu-go/internal/budget"
	"github.com/54b3r/zudu-go/internal/chat"
	"github.com/54b3r/zudu-go/internal/lead"
	"github.com/54b3r/zudu-go/internal/logging"
	"github.com/54b3r/zudu-go/internal/store"
)

// ErrSessionNotFound is returned when resuming a session with no recorded
// turns.
var ErrSessionNotFound = errors.New("agent: session not found")

// Generator produces the assistant reply for a message list.
// *react.Agent satisfies it; tests inject a fake.
type Generator interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...einoagent.AgentOption) (*schema.Message, error)
}

// Retriever returns the context block for a user utterance. It never fails;
// *retrieval.Cache satisfies it.
type Retriever interface {
	Retrieve(ctx context.Context, query string) string
}

// Config holds the dependencies required to construct an Agent.
type Config struct {
	// ChatModel is the LLM backend constructed by the provider factory.
	// Ignored when Generator is set.
	ChatModel model.ToolCallingChatModel

	// Tools are registered with the ReAct agent built from ChatModel.
	Tools []tool.BaseTool

	// Generator overrides the ReAct agent built from ChatModel.
	Generator Generator

	// Retriever supplies knowledge-base context per user turn.
	// May be nil, in which case no context is injected.
	Retriever Retriever

	// History persists turns so a session can be resumed. May be nil.
	History store.ConversationStore

	// Instructions is the system prompt. Defaults to DefaultInstructions.
	Instructions string

	// Greeting opens each new session. Defaults to DefaultGreeting.
	Greeting string

	// HistoryDepth is the number of prior exchanges (user+assistant pairs)
	// kept per session. Defaults to 10.
	HistoryDepth int

	// MaxContextTokens is the estimated input budget per generation call.
	// Defaults to budget.DefaultMaxContextTokens.
	MaxContextTokens int

	// Logger is the base logger. Defaults to slog.Default().
	Logger *slog.Logger
}

// Agent creates and runs conversation sessions. It is safe for concurrent
// use; each Session serialises its own turns.
type Agent struct {
	// generator produces replies, normally the react agent.
	generator Generator
	// retriever supplies per-turn context. Nil disables retrieval.
	retriever Retriever
	// history persists messages. Nil keeps sessions in memory only.
	history store.ConversationStore
	// instructions is the system prompt that heads every session.
	instructions string
	// greeting is the first assistant message of a new session.
	greeting string
	// historyDepth is the number of exchanges kept in memory and reloaded on
	// resume.
	historyDepth int
	// maxContextTokens is the prompt budget applied before generation.
	maxContextTokens int
	// log is the component logger.
	log *slog.Logger
}

// New constructs an Agent from cfg.
func New(ctx context.Context, cfg *Config) (*Agent, error) {
	gen := cfg.Generator
	if gen == nil {
		if cfg.ChatModel == nil {
			return nil, fmt.Errorf("agent: ChatModel must not be nil")
		}
		reactAgent, err := react.NewAgent(ctx, &react.AgentConfig{
			ToolCallingModel: cfg.ChatModel,
			ToolsConfig: compose.ToolsNodeConfig{
				Tools: cfg.Tools,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("agent: failed to create ReAct agent: %w", err)
		}
		gen = reactAgent
	}

	a := &Agent{
		generator:        gen,
		retriever:        cfg.Retriever,
		history:          cfg.History,
		instructions:     cfg.Instructions,
		greeting:         cfg.Greeting,
		historyDepth:     cfg.HistoryDepth,
		maxContextTokens: cfg.MaxContextTokens,
		log:              cfg.Logger,
	}
	if a.instructions == "" {
		a.instructions = DefaultInstructions
	}
	if a.greeting == "" {
		a.greeting = DefaultGreeting
	}
	if a.historyDepth <= 0 {
		a.historyDepth = 10
	}
	if a.maxContextTokens <= 0 {
		a.maxContextTokens = budget.DefaultMaxContextTokens
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	a.log = logging.Component(a.log, "agent")
	return a, nil
}

// Session is one conversation. Turns are strictly sequential.
type Session struct {
	// ID identifies the session in logs, storage and the HTTP API.
	ID string

	// agent is the owning Agent.
	agent *Agent
	// mu serialises turns within the session.
	mu sync.Mutex
	// history is the conversation without injected context.
	history *chat.History
}

// Open starts a session. An empty id generates a new one. Prior turns
// recorded for id are replayed into the session history.
func (a *Agent) Open(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		id = uuid.NewString()
	}
	s := &Session{ID: id, agent: a, history: chat.NewHistory(a.instructions)}

	if a.history != nil {
		prior, err := a.history.Recent(ctx, id, a.historyDepth*2)
		if err != nil {
			return nil, fmt.Errorf("agent: load history for %s: %w", id, err)
		}
		for _, m := range prior {
			s.history.Append(m.Role, m.Content)
		}
	}
	return s, nil
}

// Resume reopens a session that has recorded turns, or returns
// ErrSessionNotFound.
func (a *Agent) Resume(ctx context.Context, id string) (*Session, error) {
	if a.history == nil || id == "" {
		return nil, ErrSessionNotFound
	}
	s, err := a.Open(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.history.Len() <= 1 {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Greet records and returns the opening line of the conversation.
func (s *Session) Greet(ctx context.Context) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	greeting := s.agent.greeting
	s.history.Append(chat.RoleAssistant, greeting)
	s.persist(ctx, chat.RoleAssistant, greeting)
	return greeting
}

// Turn answers one user utterance.
//
// The utterance's knowledge-base context is retrieved on a worker goroutine
// and injected into a per-turn copy of the history, so the stored history
// never accumulates stale context. If ctx ends before retrieval or generation
// completes, the turn is abandoned and nothing is recorded.
func (s *Session) Turn(ctx context.Context, utterance string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.agent
	log := a.log.With("session_id", s.ID)

	working := s.history.Clone()
	working.Append(chat.RoleUser, utterance)

	if q, ok := working.LastUser(); ok && strings.TrimSpace(q) != "" && a.retriever != nil {
		start := time.Now()
		retrieved, err := a.retrieve(ctx, q)
		if err != nil {
			return "", fmt.Errorf("agent: turn abandoned during retrieval: %w", err)
		}
		if err := chat.Inject(working, retrieved); err != nil {
			return "", fmt.Errorf("agent: inject context: %w", err)
		}
		log.Info("context injected",
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			slog.String("preview", preview(retrieved, 100)),
		)
	}

	if dropped := budget.Trim(working, a.maxContextTokens); dropped > 0 {
		log.Warn("budget: dropped history messages to fit context window",
			slog.Int("dropped", dropped),
			slog.Int("retained", working.Len()),
			slog.Int("max_tokens", a.maxContextTokens),
		)
	}

	reply, err := a.generator.Generate(lead.WithSession(ctx, s.ID), working.Schema())
	if err != nil {
		return "", fmt.Errorf("agent: generate: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("agent: turn abandoned: %w", err)
	}
	text := strings.TrimSpace(reply.Content)

	s.history.Append(chat.RoleUser, utterance)
	s.history.Append(chat.RoleAssistant, text)
	s.prune()
	s.persist(ctx, chat.RoleUser, utterance)
	s.persist(ctx, chat.RoleAssistant, text)
	return text, nil
}

// History returns a copy of the session history.
func (s *Session) History() *chat.History {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Clone()
}

// retrieve runs the retriever on a worker goroutine. A result arriving after
// ctx ends is discarded.
func (a *Agent) retrieve(ctx context.Context, query string) (string, error) {
	done := make(chan string, 1)
	go func() { done <- a.retriever.Retrieve(ctx, query) }()

	select {
	case text := <-done:
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return text, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// prune keeps the instructions plus the most recent historyDepth exchanges.
func (s *Session) prune() {
	limit := 1 + s.agent.historyDepth*2
	if s.history.Len() <= limit {
		return
	}
	head := s.history.Items[0]
	tail := s.history.Items[s.history.Len()-(limit-1):]
	s.history.Items = append([]*chat.Message{head}, tail...)
}

func (s *Session) persist(ctx context.Context, role chat.Role, content string) {
	if s.agent.history == nil {
		return
	}
	if err := s.agent.history.Append(ctx, s.ID, role, content); err != nil {
		s.agent.log.Warn("history: failed to persist message",
			slog.String("session_id", s.ID),
			slog.String("role", string(role)),
			slog.Any("error", err),
		)
	}
}

// preview flattens s onto one line and truncates it to at most n bytes
// without splitting a rune.
func preview(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " | ")
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
