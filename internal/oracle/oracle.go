// Package oracle wraps the external generative model used to repair failing
// artifacts. The oracle is never consulted for initial generation, and its
// output is an untyped payload: whatever comes back goes through the full
// validation gauntlet like any other candidate.
package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/probeweave/probeweave/internal/types"
)

// DefaultModel is used when no model override is configured.
const DefaultModel = "claude-sonnet-4-5-20250929"

// Oracle is the repair contract the pipeline depends on. Implementations may
// fail with arbitrary latency; callers budget those failures against the
// repair attempt count.
type Oracle interface {
	// Repair asks for a replacement transform script given a failing
	// artifact and its verdict. Returns raw code text; the caller validates.
	Repair(ctx context.Context, req *RepairRequest) (string, error)
}

// RepairRequest carries everything the oracle needs to propose a fix.
type RepairRequest struct {
	Descriptor *types.ConstructDescriptor
	Artifact   *types.Artifact
	Verdict    *types.Verdict

	// Lessons accumulates one line per prior failed attempt so the oracle
	// does not repeat itself.
	Lessons []string
}

// Config holds adapter configuration.
type Config struct {
	APIKey string // If empty, read from ANTHROPIC_API_KEY.
	Model  string // Model to use (default: DefaultModel).
	Retry  RetryConfig
}

// Adapter implements Oracle over the Anthropic API with retry, a circuit
// breaker, a concurrency cap and a requests-per-minute budget.
type Adapter struct {
	client  *anthropic.Client
	model   string
	retry   RetryConfig
	breaker *CircuitBreaker
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	log     *slog.Logger
}

var _ Oracle = (*Adapter)(nil)

// NewAdapter creates the Anthropic-backed repair adapter.
func NewAdapter(cfg Config) (*Adapter, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	retry := cfg.Retry
	if retry.Timeout == 0 {
		retry = DefaultRetryConfig()
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	a := &Adapter{
		client: &client,
		model:  model,
		retry:  retry,
		log:    slog.Default().With("component", "oracle"),
	}
	if retry.CircuitBreakerEnabled {
		a.breaker = NewCircuitBreaker(retry.FailureThreshold, retry.SuccessThreshold, retry.OpenTimeout)
	}
	if retry.MaxConcurrentCalls > 0 {
		a.sem = semaphore.NewWeighted(int64(retry.MaxConcurrentCalls))
	}
	if retry.RequestsPerMinute > 0 {
		a.limiter = rate.NewLimiter(rate.Limit(float64(retry.RequestsPerMinute)/60.0), 1)
	}
	return a, nil
}

// Repair sends the failing script and its diagnostics to the model and
// extracts a candidate replacement transform.
func (a *Adapter) Repair(ctx context.Context, req *RepairRequest) (string, error) {
	if a.sem != nil {
		if err := a.sem.Acquire(ctx, 1); err != nil {
			return "", fmt.Errorf("failed to acquire oracle slot: %w", err)
		}
		defer a.sem.Release(1)
	}
	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limit wait: %w", err)
		}
	}

	prompt := buildRepairPrompt(req)
	start := time.Now()

	var response *anthropic.Message
	err := a.retryWithBackoff(ctx, "repair", func(attemptCtx context.Context) error {
		resp, apiErr := a.client.Messages.New(attemptCtx, anthropic.MessageNewParams{
			Model:     anthropic.Model(a.model),
			MaxTokens: 4096,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if apiErr != nil {
			return apiErr
		}
		response = resp
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("oracle call failed: %w", err)
	}

	var text strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	code, err := ExtractCode(text.String())
	if err != nil {
		return "", fmt.Errorf("malformed oracle response: %w", err)
	}

	a.log.Info("oracle repair returned",
		"fingerprint", req.Artifact.Fingerprint.Short(),
		"input_tokens", response.Usage.InputTokens,
		"output_tokens", response.Usage.OutputTokens,
		"duration", time.Since(start))
	return code, nil
}
