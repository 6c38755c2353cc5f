// Package lead defines the sales lead captured during a conversation and
// the validation applied before it is stored.
package lead

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Lead is the contact record the agent collects.
type Lead struct {
	// ID is a random UUID assigned by [New].
	ID string `json:"id" validate:"required,uuid4"`
	// SessionID links the lead to the conversation that produced it.
	SessionID string `json:"session_id" validate:"required"`
	// Name is the caller's full name.
	Name string `json:"name" validate:"required,max=200"`
	// Company is the caller's organisation.
	Company string `json:"company" validate:"required,max=200"`
	// Email is where the Zudu team follows up.
	Email string `json:"email" validate:"required,email,max=320"`
	// UseCase describes what the caller wants to build.
	UseCase string `json:"use_case" validate:"required,max=2000"`
	// CreatedAt is when the lead was captured.
	CreatedAt time.Time `json:"created_at"`
}

// Store persists leads.
type Store interface {
	SaveLead(ctx context.Context, l *Lead) error
	Leads(ctx context.Context, limit int) ([]Lead, error)
}

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("lead: invalid")

var validate = validator.New(validator.WithRequiredStructEnabled())

// New builds a lead with a fresh ID and timestamp, trimming surrounding
// whitespace from every field, and validates it.
func New(sessionID, name, company, email, useCase string) (*Lead, error) {
	l := &Lead{
		ID:        uuid.NewString(),
		SessionID: strings.TrimSpace(sessionID),
		Name:      strings.TrimSpace(name),
		Company:   strings.TrimSpace(company),
		Email:     strings.TrimSpace(email),
		UseCase:   strings.TrimSpace(useCase),
		CreatedAt: time.Now().UTC(),
	}
	if err := Validate(l); err != nil {
		return nil, err
	}
	return l, nil
}

// Validate checks l and reports every failing field in one error.
func Validate(l *Lead) error {
	err := validate.Struct(l)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("lead: validate: %w", err)
	}
	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		problems = append(problems, describe(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
}

func describe(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	if field == "usecase" {
		field = "use_case"
	} else if field == "sessionid" {
		field = "session_id"
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return field + " is not a valid email address"
	case "max":
		return fmt.Sprintf("%s exceeds %s characters", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}

type sessionKey struct{}

// WithSession returns a copy of ctx carrying the conversation's session ID,
// read back by the save_lead tool.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey{}, sessionID)
}

// SessionFrom returns the session ID stored by [WithSession].
func SessionFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionKey{}).(string)
	return id, ok && id != ""
}
