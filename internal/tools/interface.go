// Package tools holds the tools the conversation agent can call mid-turn.
// Each tool satisfies both this package's [Tool] interface and Eino's
// tool.InvokableTool so it can be registered directly with the ReAct agent.
package tools

import (
	"context"

	"github.com/cloudwego/eino/components/tool"
)

// Tool is implemented by every zudu tool. Name and Description let the agent
// log and route calls without type assertions.
type Tool interface {
	tool.InvokableTool

	// Name returns the unique tool name registered with the agent.
	Name() string

	// Description returns the LLM-facing description of what the tool does.
	Description() string
}

// Retriever is the knowledge-base lookup used by [KnowledgeTool].
// *retrieval.Cache implements it.
type Retriever interface {
	Retrieve(ctx context.Context, query string) string
}
