package runner

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/kestrelworks/swarmgate/pkg/models"
)

const (
	defaultMaxTokens  = 8192
	defaultIterations = 25
)

// Client wraps the Anthropic SDK client with token tracking shared
// across all workers spawned from the same factory.
type Client struct {
	inner   anthropic.Client
	model   anthropic.Model
	tracker *TokenTracker
}

// ClientConfig contains configuration for creating a new Client.
type ClientConfig struct {
	// Model is the Claude model to use. Defaults to Sonnet.
	Model anthropic.Model
	// APIKey is the Anthropic API key. If empty, uses ANTHROPIC_API_KEY.
	APIKey string
}

// NewClient creates a new Anthropic API client.
func NewClient(cfg ClientConfig) (*Client, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
	}

	model := cfg.Model
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}

	return &Client{
		inner:   anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:   model,
		tracker: NewTokenTracker(),
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() anthropic.Model {
	return c.model
}

// Tracker returns the shared token tracker.
func (c *Client) Tracker() *TokenTracker {
	return c.tracker
}

// TokenTracker tracks token usage across API calls.
type TokenTracker struct {
	mu        sync.Mutex
	inputTok  int64
	outputTok int64
	calls     int
}

// NewTokenTracker creates a new token tracker.
func NewTokenTracker() *TokenTracker {
	return &TokenTracker{}
}

// Add records token usage from an API call.
func (t *TokenTracker) Add(input, output int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inputTok += input
	t.outputTok += output
	t.calls++
}

// Total returns the total input and output tokens tracked.
func (t *TokenTracker) Total() (input, output int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inputTok, t.outputTok
}

// Calls returns the number of API calls made.
func (t *TokenTracker) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

// APIRunner executes an agent task through the Anthropic API. Each
// iteration of the conversation loop emits a progress signal, so a
// healthy worker never trips the stall detector between API calls.
type APIRunner struct {
	client        *Client
	maxIterations int
}

// NewAPIRunner creates an API-backed runner.
func NewAPIRunner(client *Client) *APIRunner {
	return &APIRunner{client: client, maxIterations: defaultIterations}
}

// Run executes the task conversation loop until the model ends its turn.
func (r *APIRunner) Run(ctx context.Context, task models.AgentTask, workerID string, progress chan<- Progress) Outcome {
	out := Outcome{TaskID: task.ID, WorkerID: workerID}

	messages := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(taskPrompt(task))),
	}

	var transcript strings.Builder
	for i := 0; i < r.maxIterations; i++ {
		if err := ctx.Err(); err != nil {
			out.Err = err
			return out
		}

		resp, err := r.client.inner.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     r.client.Model(),
			MaxTokens: defaultMaxTokens,
			System: []anthropic.TextBlockParam{
				{Text: systemPrompt(task)},
			},
			Messages: messages,
		})
		if err != nil {
			out.Err = fmt.Errorf("API call failed: %w", err)
			out.Log = transcript.String()
			return out
		}

		out.TokensIn += resp.Usage.InputTokens
		out.TokensOut += resp.Usage.OutputTokens
		r.client.Tracker().Add(resp.Usage.InputTokens, resp.Usage.OutputTokens)

		var text string
		for _, block := range resp.Content {
			if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
				text += variant.Text
			}
		}
		transcript.WriteString(text)

		emit(ctx, progress, Progress{
			WorkerID:   workerID,
			TaskID:     task.ID,
			Message:    fmt.Sprintf("iteration %d", i+1),
			TokensUsed: out.TokensIn + out.TokensOut,
			At:         time.Now(),
		})

		if resp.StopReason == anthropic.StopReasonEndTurn {
			out.Success = true
			out.Summary = firstLine(text)
			out.Modified = task.Resources
			out.Log = transcript.String()
			return out
		}

		// Turn truncated at the token ceiling; ask the model to continue.
		messages = append(messages,
			anthropic.NewAssistantMessage(anthropic.NewTextBlock(text)),
			anthropic.NewUserMessage(anthropic.NewTextBlock("continue")),
		)
	}

	out.Err = fmt.Errorf("max iterations (%d) reached", r.maxIterations)
	out.Log = transcript.String()
	return out
}

// emit delivers a progress signal without blocking a cancelled worker.
func emit(ctx context.Context, progress chan<- Progress, p Progress) {
	if progress == nil {
		return
	}
	select {
	case progress <- p:
	case <-ctx.Done():
	}
}

func systemPrompt(task models.AgentTask) string {
	var b strings.Builder
	b.WriteString("You are a focused implementation agent working on one task in a larger workflow.\n")
	b.WriteString("Stay within the resources assigned to the task. Report what you changed when done.")
	if len(task.Resources) > 0 {
		b.WriteString("\n\nAssigned resources:\n")
		for _, res := range task.Resources {
			b.WriteString("- " + res + "\n")
		}
	}
	return b.String()
}

func taskPrompt(task models.AgentTask) string {
	return fmt.Sprintf("Task %s (%s phase): %s", task.ID, task.Phase, task.Title)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}

// APIFactory creates API-backed runners sharing one client.
type APIFactory struct {
	// Client is the shared Anthropic client. Required.
	Client *Client
}

// NewRunner creates a new API-backed runner.
func (f *APIFactory) NewRunner() Runner {
	return NewAPIRunner(f.Client)
}

// Verify implementations at compile time.
var (
	_ Runner  = (*APIRunner)(nil)
	_ Factory = (*APIFactory)(nil)
)
