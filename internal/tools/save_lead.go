package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/zudu-go/internal/lead"
)

// SaveLeadTool records the caller's contact details once the agent has
// collected them.
type SaveLeadTool struct {
	// store persists validated leads.
	store lead.Store
	// log is the component logger.
	log *slog.Logger
	// onSave is called after each stored lead. May be nil.
	onSave func()
}

type saveLeadInput struct {
	// Name is the caller's full name.
	Name string `json:"name"`
	// Company is the caller's organisation.
	Company string `json:"company"`
	// Email is the caller's contact address.
	Email string `json:"email"`
	// UseCase is what the caller wants a voice agent for.
	UseCase string `json:"use_case"`
}

// NewSaveLeadTool constructs a SaveLeadTool. onSave, if non-nil, is called
// after every stored lead (the server counts them).
func NewSaveLeadTool(store lead.Store, log *slog.Logger, onSave func()) *SaveLeadTool {
	if log == nil {
		log = slog.Default()
	}
	return &SaveLeadTool{store: store, log: log, onSave: onSave}
}

// Name returns the tool name registered with the agent.
func (t *SaveLeadTool) Name() string { return "save_lead" }

// Description returns the LLM-facing description of this tool.
func (t *SaveLeadTool) Description() string {
	return "Saves the caller's details for the Zudu team to follow up. " +
		"Call this once you have confirmed the caller's full name, company name, " +
		"email address and use case. If the result reports a problem, ask the " +
		"caller to correct that detail and call the tool again."
}

// Info returns the Eino tool metadata including the JSON input schema.
func (t *SaveLeadTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: t.Name(),
		Desc: t.Description(),
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"name": {
				Type:     schema.String,
				Desc:     "The caller's full name.",
				Required: true,
			},
			"company": {
				Type:     schema.String,
				Desc:     "The caller's company name.",
				Required: true,
			},
			"email": {
				Type:     schema.String,
				Desc:     "The caller's email address, spelled out and confirmed.",
				Required: true,
			},
			"use_case": {
				Type:     schema.String,
				Desc:     "What the caller wants to use an AI voice agent for.",
				Required: true,
			},
		}),
	}, nil
}

// InvokableRun validates and stores the lead. Validation problems are
// returned as the tool result so the model can ask the caller to correct
// them; storage failures are returned as errors.
func (t *SaveLeadTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var input saveLeadInput
	if err := json.Unmarshal([]byte(argumentsInJSON), &input); err != nil {
		return "", fmt.Errorf("save_lead: invalid input: %w", err)
	}

	sessionID, ok := lead.SessionFrom(ctx)
	if !ok {
		return "", fmt.Errorf("save_lead: no session in context")
	}

	l, err := lead.New(sessionID, input.Name, input.Company, input.Email, input.UseCase)
	if errors.Is(err, lead.ErrInvalid) {
		t.log.Info("lead rejected", "session_id", sessionID, "error", err)
		return "Not saved: " + err.Error(), nil
	}
	if err != nil {
		return "", fmt.Errorf("save_lead: %w", err)
	}

	if err := t.store.SaveLead(ctx, l); err != nil {
		return "", fmt.Errorf("save_lead: %w", err)
	}
	if t.onSave != nil {
		t.onSave()
	}
	t.log.Info("lead saved", "session_id", sessionID, "lead_id", l.ID)
	return fmt.Sprintf("Saved lead %s for %s at %s.", l.ID, l.Name, l.Company), nil
}
