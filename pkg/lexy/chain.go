package lexy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"lexy/pkg/graph"
	"lexy/pkg/llm"
	"lexy/pkg/utils"
)

// NodeInvokeModel is the name of the only node of the chain.
const NodeInvokeModel = "invoke_model"

// DefaultModel is the model whose tokenizer sizes the chat history.
const DefaultModel = "gpt-4o"

var (
	// ErrInvalidResult is returned when the model reply is not a plain assistant message.
	ErrInvalidResult = errors.New("invalid result from model, expected assistant message")
	// ErrMissingInput is returned when the state carries no input message.
	ErrMissingInput = errors.New("state has no input message")
)

// Options configures the chain.
type Options struct {
	// SystemPrompt replaces DefaultSystemPrompt when set.
	SystemPrompt string
	// Model picks the tokenizer for history trimming.
	Model string
	// HistoryMaxTokens bounds the rendered chat history. Zero keeps it all.
	HistoryMaxTokens int
	// Counter overrides the tokenizer.
	Counter llm.TokenCounter
	// RecursionLimit is passed to the compiled graph.
	RecursionLimit int
}

func (o Options) counter() llm.TokenCounter {
	if o.Counter != nil {
		return o.Counter
	}
	model := o.Model
	if model == "" {
		model = DefaultModel
	}
	return llm.CounterFor(model)
}

// TokenSink observes streamed content blocks while the model answers.
type TokenSink func(block llm.ContentBlock)

type tokenSinkKey struct{}

// WithTokenSink attaches sink to ctx so invoke_model forwards every block to it.
func WithTokenSink(ctx context.Context, sink TokenSink) context.Context {
	return context.WithValue(ctx, tokenSinkKey{}, sink)
}

func tokenSinkFrom(ctx context.Context) TokenSink {
	sink, _ := ctx.Value(tokenSinkKey{}).(TokenSink)
	return sink
}

// InvokeModel returns the invoke_model node. It renders the prompt around
// the input message, streams the reply from client and returns the reply
// text as the partial state {Result}.
func InvokeModel(client llm.LLMClient, opts Options) graph.NodeFunc[State] {
	prompt := NewPromptTemplate(opts.SystemPrompt)
	count := opts.counter()

	return func(ctx context.Context, state State) (State, error) {
		if state.Input == nil {
			return State{}, ErrMissingInput
		}

		history := llm.TrimToTokenBudget(state.ChatHistory, opts.HistoryMaxTokens, count)
		if dropped := len(state.ChatHistory) - len(history); dropped > 0 {
			slog.DebugContext(ctx, "Trimmed chat history", "dropped", dropped, "budget", opts.HistoryMaxTokens)
		}

		messages, err := prompt.Format(map[string][]llm.Message{
			VarChatHistory: history,
			VarInput:       {*state.Input},
		})
		if err != nil {
			return State{}, err
		}

		chunks, err := client.StreamChat(ctx, messages)
		if err != nil {
			return State{}, fmt.Errorf("%s: %w", client.Provider(), err)
		}

		reply, err := llm.Collect(ctx, chunks, tokenSinkFrom(ctx))
		if err != nil {
			return State{}, fmt.Errorf("%s: %w", client.Provider(), err)
		}

		if reply.Role != llm.RoleAssistant || len(reply.ToolCalls) > 0 {
			return State{}, ErrInvalidResult
		}

		result := reply.GetTextContent()
		return State{Result: &result}, nil
	}
}

// CreateGraph compiles the chain: invoke_model is both the entry and the finish point.
func CreateGraph(client llm.LLMClient, opts Options) (*graph.CompiledGraph[State], error) {
	g := graph.NewStateGraph(MergeState)

	if err := g.AddNode(NodeInvokeModel, InvokeModel(client, opts)); err != nil {
		return nil, err
	}
	if err := g.SetEntryPoint(NodeInvokeModel); err != nil {
		return nil, err
	}
	if err := g.SetFinishPoint(NodeInvokeModel); err != nil {
		return nil, err
	}

	compileOpts := []graph.CompileOption{graph.WithName("generative_ui")}
	if opts.RecursionLimit > 0 {
		compileOpts = append(compileOpts, graph.WithRecursionLimit(opts.RecursionLimit))
	}
	return g.Compile(compileOpts...)
}

// Upload is a user-provided file.
type Upload struct {
	Name      string
	Extension string
	MimeType  string
	Data      []byte
}

// NewInput builds the human message for the input key. Images become image
// blocks; other uploads are named in a text block since the model cannot
// read them.
func NewInput(text string, uploads ...Upload) llm.Message {
	msg := llm.NewUserMessage(text)
	for _, up := range uploads {
		mimeType := up.MimeType
		if mimeType == "" {
			mimeType = utils.MimeFromExt(up.Extension, up.Data)
		}
		if utils.IsImage(mimeType) {
			msg.AddContentBlock(llm.NewImageBlock(up.Data, mimeType))
			continue
		}
		name := up.Name
		if name == "" {
			name = "upload"
		}
		msg.AddContentBlock(llm.NewTextBlock(fmt.Sprintf("\n[Attached file %s (%s, %d bytes)]", File{Name: name, Extension: up.Extension}.FileName(), mimeType, len(up.Data))))
	}
	return msg
}
