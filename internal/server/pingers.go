package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/zudu-go/internal/provider"
)

// LLMPinger probes the chat model backend. A zero-cost HTTP health check is
// preferred; backends without one fall back to a one-message Generate call.
type LLMPinger struct {
	// model is probed with a one-message Generate when healthCheck is nil.
	model model.BaseChatModel
	// healthCheck is the provider's cheap reachability probe, if any.
	healthCheck provider.HealthChecker
	// name is reported in the readiness response.
	name string
}

// NewLLMPinger constructs an LLMPinger. hc may be nil.
func NewLLMPinger(m model.BaseChatModel, hc provider.HealthChecker, name string) *LLMPinger {
	return &LLMPinger{model: m, healthCheck: hc, name: name}
}

// Name implements Pinger.
func (p *LLMPinger) Name() string { return p.name }

// Ping implements Pinger.
func (p *LLMPinger) Ping(ctx context.Context) error {
	if p.healthCheck != nil {
		if err := p.healthCheck.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s health check failed: %w", p.name, err)
		}
		return nil
	}
	if p.model == nil {
		return errors.New("no chat model configured")
	}

	slog.Debug("pinger: no health endpoint, probing with Generate", slog.String("backend", p.name))
	resp, err := p.model.Generate(ctx, []*schema.Message{schema.UserMessage("ping")})
	if err != nil {
		return fmt.Errorf("generate failed: %w", err)
	}
	if resp == nil {
		return errors.New("generate returned nil response")
	}
	return nil
}

// funcPinger adapts a Ping method (SQLite, Qdrant, Redis) to Pinger.
type funcPinger struct {
	// name is reported in the readiness response.
	name string
	// ping performs the check.
	ping func(ctx context.Context) error
}

// NewPinger wraps ping as a Pinger labelled name.
func NewPinger(name string, ping func(ctx context.Context) error) Pinger {
	return &funcPinger{name: name, ping: ping}
}

func (p *funcPinger) Name() string { return p.name }

func (p *funcPinger) Ping(ctx context.Context) error {
	if err := p.ping(ctx); err != nil {
		return fmt.Errorf("%s unreachable: %w", p.name, err)
	}
	return nil
}
