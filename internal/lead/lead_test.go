package lead

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Valid(t *testing.T) {
	t.Parallel()

	l, err := New("sess-1", "  Ada Lovelace ", "Analytical Engines", "ada@example.com", "Inbound call qualification")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", l.Name)
	assert.Len(t, l.ID, 36)
	assert.False(t, l.CreatedAt.IsZero())
}

func TestNew_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		email   string
		company string
		useCase string
		want    string
	}{
		{name: "bad email", email: "ada-at-example", company: "AE", useCase: "x", want: "email is not a valid email address"},
		{name: "missing company", email: "ada@example.com", company: "  ", useCase: "x", want: "company is required"},
		{name: "missing use case", email: "ada@example.com", company: "AE", useCase: "", want: "use_case is required"},
		{name: "long use case", email: "ada@example.com", company: "AE", useCase: strings.Repeat("a", 2001), want: "use_case exceeds 2000 characters"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := New("sess-1", "Ada", tc.company, tc.email, tc.useCase)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid))
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestValidate_ReportsAllFields(t *testing.T) {
	t.Parallel()

	err := Validate(&Lead{})
	require.Error(t, err)
	for _, field := range []string{"id", "session_id", "name", "company", "email", "use_case"} {
		assert.Contains(t, err.Error(), field+" is required")
	}
}

func TestSessionContext(t *testing.T) {
	t.Parallel()

	_, ok := SessionFrom(context.Background())
	assert.False(t, ok)

	id, ok := SessionFrom(WithSession(context.Background(), "abc"))
	assert.True(t, ok)
	assert.Equal(t, "abc", id)
}
