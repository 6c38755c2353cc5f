package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// KnowledgeTool lets the model look something up in the Zudu knowledge base
// when the context injected for the caller's utterance is not enough, e.g.
// for a follow-up phrased differently from the original question.
type KnowledgeTool struct {
	// retriever serves the lookup, normally the retrieval cache.
	retriever Retriever
}

type knowledgeInput struct {
	// Query is the model's search text.
	Query string `json:"query"`
}

// NewKnowledgeTool constructs a KnowledgeTool.
func NewKnowledgeTool(r Retriever) *KnowledgeTool {
	return &KnowledgeTool{retriever: r}
}

// Name returns the tool name registered with the agent.
func (t *KnowledgeTool) Name() string { return "search_knowledge" }

// Description returns the LLM-facing description of this tool.
func (t *KnowledgeTool) Description() string {
	return "Searches Zudu's company documents and returns the most relevant passages. " +
		"Use it for questions about Zudu, its founders, products or pricing that the " +
		"provided context does not answer."
}

// Info returns the Eino tool metadata including the JSON input schema.
func (t *KnowledgeTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: t.Name(),
		Desc: t.Description(),
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Type:     schema.String,
				Desc:     "A short natural-language search query.",
				Required: true,
			},
		}),
	}, nil
}

// InvokableRun returns the retrieved context, or the no-context fallback.
func (t *KnowledgeTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var input knowledgeInput
	if err := json.Unmarshal([]byte(argumentsInJSON), &input); err != nil {
		return "", fmt.Errorf("search_knowledge: invalid input: %w", err)
	}
	return t.retriever.Retrieve(ctx, input.Query), nil
}
