// Command zudu runs the Zudu lead-capture voice agent: an HTTP server for
// voice sessions, an interactive terminal chat, knowledge-base ingestion and
// a retrieval debugging command.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/54b3r/zudu-go/cmd/zudu/commands"
)

func main() {
	if err := commands.NewRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
