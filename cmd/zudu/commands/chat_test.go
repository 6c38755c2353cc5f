package commands

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type scriptedSession struct {
	got []string
	err map[string]error
}

func (s *scriptedSession) Turn(_ context.Context, utterance string) (string, error) {
	s.got = append(s.got, utterance)
	if err := s.err[utterance]; err != nil {
		return "", err
	}
	return "echo: " + utterance, nil
}

func TestChatLoop(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		input     string
		wantTurns []string
		wantOut   []string
	}{
		{
			name:      "exit ends the conversation",
			input:     "hello\n\nmy name is Sipho\nexit\nnever sent\n",
			wantTurns: []string{"hello", "my name is Sipho"},
			wantOut:   []string{"Agent: echo: hello", "Agent: echo: my name is Sipho"},
		},
		{
			name:      "quit is case-insensitive",
			input:     "hi\nQUIT\n",
			wantTurns: []string{"hi"},
		},
		{
			name:      "EOF ends the conversation",
			input:     "hi",
			wantTurns: []string{"hi"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sess := &scriptedSession{}
			var out bytes.Buffer
			if err := chatLoop(t.Context(), sess, strings.NewReader(tt.input), &out, time.Second); err != nil {
				t.Fatalf("chatLoop: %v", err)
			}
			if strings.Join(sess.got, "|") != strings.Join(tt.wantTurns, "|") {
				t.Errorf("turns: got %q, want %q", sess.got, tt.wantTurns)
			}
			for _, want := range tt.wantOut {
				if !strings.Contains(out.String(), want) {
					t.Errorf("output missing %q:\n%s", want, out.String())
				}
			}
		})
	}
}

func TestChatLoop_TurnErrorIsReportedAndLoopContinues(t *testing.T) {
	t.Parallel()
	sess := &scriptedSession{err: map[string]error{"boom": errors.New("model unavailable")}}
	var out bytes.Buffer

	if err := chatLoop(t.Context(), sess, strings.NewReader("boom\nhello\nexit\n"), &out, time.Second); err != nil {
		t.Fatalf("chatLoop: %v", err)
	}
	if !strings.Contains(out.String(), "[error] model unavailable") {
		t.Errorf("expected error line, got:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "Agent: echo: hello") {
		t.Errorf("expected loop to continue after error, got:\n%s", out.String())
	}
}

func TestRootCmd_Subcommands(t *testing.T) {
	t.Parallel()
	root := NewRootCmd()
	for _, name := range []string{"serve", "chat", "query", "ingest", "version"} {
		if c, _, err := root.Find([]string{name}); err != nil || c.Name() != name {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}
