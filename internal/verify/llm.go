package verify

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	checkerDefaultModel   = "claude-3-5-haiku-20241022"
	checkerMaxRetries     = 3
	checkerInitialBackoff = 1 * time.Second
)

// HaikuChecker is the optional LLM-backed ConsistencyChecker, using the same Anthropic
// client shape as Consolidate's Improver (internal/consolidate/llm.go).
type HaikuChecker struct {
	client         anthropic.Client
	model          anthropic.Model
	maxRetries     int
	initialBackoff time.Duration
}

var ErrAPIKeyRequired = errors.New("API key required")

func NewHaikuChecker(apiKey string) (*HaikuChecker, error) {
	if envKey := os.Getenv("ANTHROPIC_API_KEY"); envKey != "" {
		apiKey = envKey
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: set ANTHROPIC_API_KEY or provide one explicitly", ErrAPIKeyRequired)
	}
	return &HaikuChecker{
		client:         anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:          checkerDefaultModel,
		maxRetries:     checkerMaxRetries,
		initialBackoff: checkerInitialBackoff,
	}, nil
}

// CheckConsistency asks the model whether content reads as internally consistent and
// plausible; a malformed or negative response flags the memory rather than erroring.
func (c *HaikuChecker) CheckConsistency(ctx context.Context, content string) (bool, string, error) {
	prompt := fmt.Sprintf(
		"Does the following stored memory read as internally consistent and plausible? "+
			"Reply with exactly \"OK\" if so, or a short reason why not.\n\n%s", content)

	resp, err := c.callWithRetry(ctx, prompt)
	if err != nil {
		return false, "", err
	}

	trimmed := strings.TrimSpace(resp)
	if strings.EqualFold(trimmed, "OK") {
		return true, "", nil
	}
	return false, trimmed, nil
}

func (c *HaikuChecker) callWithRetry(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 128,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.initialBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		message, err := c.client.Messages.New(ctx, params)
		if err == nil {
			if len(message.Content) == 0 {
				return "", fmt.Errorf("unexpected response: no content blocks")
			}
			content := message.Content[0]
			if content.Type != "text" {
				return "", fmt.Errorf("unexpected response: not a text block (type=%s)", content.Type)
			}
			return content.Text, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !isRetryable(err) {
			return "", fmt.Errorf("non-retryable error: %w", err)
		}
	}
	return "", fmt.Errorf("failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}
