package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/zudu-go/internal/agent"
	"github.com/54b3r/zudu-go/internal/logging"
)

// NewChatCmd constructs the `zudu chat` command, an interactive terminal
// conversation with the agent.
func NewChatCmd() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the Zudu agent in the terminal",
		Long: `Start an interactive conversation with the Zudu agent. Each line you type is
one caller utterance. Type "exit" or "quit" to end the conversation.

Pass --session to continue a conversation recorded earlier.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			rt, err := runtimeFromEnv("chat")
			if err != nil {
				return err
			}
			st, err := openStack(ctx, rt, nil, log)
			if err != nil {
				return fmt.Errorf("chat: %w", err)
			}
			defer st.Close()

			deps, err := buildAgent(ctx, st, nil, log)
			if err != nil {
				return fmt.Errorf("chat: %w", err)
			}
			defer deps.flush()

			sess, err := deps.agent.Open(ctx, sessionID)
			if err != nil {
				return fmt.Errorf("chat: %w", err)
			}
			out := cmd.OutOrStdout()
			if sess.History().Len() <= 1 {
				fmt.Fprintf(out, "Agent: %s\n", sess.Greet(ctx))
			} else {
				fmt.Fprintf(out, "Resumed session %s\n", sess.ID)
			}

			err = chatLoop(ctx, sess, cmd.InOrStdin(), out, rt.TurnTimeout)
			fmt.Fprintf(out, "Session %s ended.\n", sess.ID)
			return err
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session ID to resume")
	return cmd
}

// turnTaker is the part of *agent.Session the chat loop drives.
type turnTaker interface {
	Turn(ctx context.Context, utterance string) (string, error)
}

var _ turnTaker = (*agent.Session)(nil)

// chatLoop reads utterances line by line until EOF, "exit" or "quit". A
// failed turn is reported and the conversation continues.
func chatLoop(ctx context.Context, sess turnTaker, in io.Reader, out io.Writer, timeout time.Duration) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "You: ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(line) {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		turnCtx, cancel := context.WithTimeout(ctx, timeout)
		reply, err := sess.Turn(turnCtx, line)
		cancel()
		if err != nil {
			if isCanceled(err) && ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(out, "[error] %v\n", err)
			continue
		}
		fmt.Fprintf(out, "Agent: %s\n", reply)
	}
}
