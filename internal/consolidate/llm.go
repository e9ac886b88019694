package consolidate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"text/template"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/memoryd/memoryd/internal/audit"
	"github.com/memoryd/memoryd/internal/store"
)

const (
	improverDefaultModel   = "claude-3-5-haiku-20241022"
	improverMaxRetries     = 3
	improverInitialBackoff = 1 * time.Second
	improverBatchSize      = 10
	predictionBatchSize    = 5
)

// ErrAPIKeyRequired is returned when an API key is needed but not provided.
var ErrAPIKeyRequired = errors.New("API key required")

// Improver wraps the Anthropic API for the two optional, LLM-assisted consolidation
// steps: rewriting high-importance memories for clarity, and generating a small batch
// of candidate predictions from recent activity. Both steps are best-effort; Engine
// logs and continues past any Improver error rather than failing the whole pass.
type Improver struct {
	st             *store.Store
	auditLog       *audit.Log
	client         anthropic.Client
	model          anthropic.Model
	improveTmpl    *template.Template
	predictTmpl    *template.Template
	maxRetries     int
	initialBackoff time.Duration
}

// NewImprover creates an Improver. Env var ANTHROPIC_API_KEY takes precedence over an
// explicit apiKey.
func NewImprover(st *store.Store, auditLog *audit.Log, apiKey string) (*Improver, error) {
	if envKey := os.Getenv("ANTHROPIC_API_KEY"); envKey != "" {
		apiKey = envKey
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: set ANTHROPIC_API_KEY or provide one explicitly", ErrAPIKeyRequired)
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	improveTmpl, err := template.New("improve").Parse(improvePromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse improve template: %w", err)
	}
	predictTmpl, err := template.New("predict").Parse(predictPromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse predict template: %w", err)
	}

	return &Improver{
		st:             st,
		auditLog:       auditLog,
		client:         client,
		model:          improverDefaultModel,
		improveTmpl:    improveTmpl,
		predictTmpl:    predictTmpl,
		maxRetries:     improverMaxRetries,
		initialBackoff: improverInitialBackoff,
	}, nil
}

// ImproveHighImportanceMemories rewrites the content of high-importance memories the
// LLM hasn't already touched, for clarity and concision. Gated on
// metadata.llm_improved so a memory is only ever improved once; the content it
// replaces is preserved under metadata.original_content.
func (im *Improver) ImproveHighImportanceMemories(ctx context.Context) error {
	rows, err := im.st.DB().QueryContext(ctx, `
		SELECT id, content, metadata FROM memories
		WHERE invalidated_at IS NULL AND importance >= 0.8
		ORDER BY importance DESC LIMIT ?`, improverBatchSize)
	if err != nil {
		return err
	}
	type row struct {
		id       int64
		content  string
		metadata string
	}
	var candidates []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.content, &r.metadata); err != nil {
			rows.Close()
			return err
		}
		candidates = append(candidates, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, r := range candidates {
		meta := store.UnmarshalJSON(r.metadata)
		if improved, _ := meta["llm_improved"].(bool); improved {
			continue
		}

		rewritten, callErr := im.callImprove(ctx, r.content)
		im.recordAudit(ctx, "llm_improve_memory", r.id, rewritten, callErr)
		if callErr != nil {
			continue // best-effort per memory; one failure doesn't block the batch
		}
		if rewritten == "" || rewritten == r.content {
			continue
		}

		meta["llm_improved"] = true
		meta["original_content"] = r.content
		now := store.FormatTime(time.Now())
		if _, _, err := im.st.Execute(ctx, "UPDATE memories SET content = ?, metadata = ?, updated_at = ? WHERE id = ?",
			[]any{rewritten, store.MarshalJSON(meta), now, r.id}, false); err != nil {
			return fmt.Errorf("update improved memory %d: %w", r.id, err)
		}
	}
	return nil
}

// predictionCandidate is the shape the LLM is asked to return for GeneratePredictions.
type predictionCandidate struct {
	Content     string  `json:"content"`
	Type        string  `json:"type"`
	Priority    float64 `json:"priority"`
	PatternName string  `json:"pattern_name"`
}

// GeneratePredictions asks the LLM for a small batch of candidate predictions based on
// recent high-importance memories. A malformed response degrades to zero predictions
// rather than an error, since this step is advisory and best-effort.
func (im *Improver) GeneratePredictions(ctx context.Context) error {
	rows, err := im.st.DB().QueryContext(ctx, `
		SELECT content FROM memories
		WHERE invalidated_at IS NULL
		ORDER BY importance DESC, created_at DESC LIMIT 20`)
	if err != nil {
		return err
	}
	var contents []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			rows.Close()
			return err
		}
		contents = append(contents, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()
	if len(contents) == 0 {
		return nil
	}

	prompt, err := im.renderPredictPrompt(contents)
	if err != nil {
		return fmt.Errorf("render predict prompt: %w", err)
	}
	resp, callErr := im.callWithRetry(ctx, im.model, prompt)
	im.recordAudit(ctx, "llm_generate_predictions", 0, resp, callErr)
	if callErr != nil {
		return nil // advisory step; silent no-op on failure
	}

	var candidates []predictionCandidate
	if err := json.Unmarshal([]byte(extractJSONArray(resp)), &candidates); err != nil {
		return nil // malformed response: zero predictions, not an error
	}

	now := store.FormatTime(time.Now())
	for i, c := range candidates {
		if i >= predictionBatchSize {
			break
		}
		if c.Content == "" {
			continue
		}
		if _, err := im.st.Insert(ctx, "predictions", map[string]any{
			"content":                 c.Content,
			"prediction_type":         c.Type,
			"priority":                c.Priority,
			"prediction_pattern_name": c.PatternName,
			"is_shown":                0,
			"is_acted_on":             0,
			"metadata":                "{}",
			"created_at":              now,
			"updated_at":              now,
		}); err != nil {
			return fmt.Errorf("insert prediction: %w", err)
		}
	}
	return nil
}

func (im *Improver) callImprove(ctx context.Context, content string) (string, error) {
	prompt, err := im.renderImprovePrompt(content)
	if err != nil {
		return "", fmt.Errorf("render improve prompt: %w", err)
	}
	return im.callWithRetry(ctx, im.model, prompt)
}

func (im *Improver) callWithRetry(ctx context.Context, model anthropic.Model, prompt string) (string, error) {
	var lastErr error
	params := anthropic.MessageNewParams{
		Model:     model,
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	for attempt := 0; attempt <= im.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := im.initialBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		message, err := im.client.Messages.New(ctx, params)
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
	return "", fmt.Errorf("failed after %d attempts: %w", im.maxRetries+1, lastErr)
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

func (im *Improver) recordAudit(ctx context.Context, operation string, memoryID int64, response string, callErr error) {
	if im.auditLog == nil {
		return
	}
	details := map[string]any{"model": string(im.model), "response_length": len(response)}
	if callErr != nil {
		details["error"] = callErr.Error()
	}
	var memID *int64
	if memoryID != 0 {
		memID = &memoryID
	}
	if err := im.auditLog.Record(ctx, operation, nil, memID, "", false, details); err != nil {
		// Best-effort: never fail an LLM step because audit logging failed.
		_ = err
	}
}

type improveData struct{ Content string }

func (im *Improver) renderImprovePrompt(content string) (string, error) {
	var buf []byte
	w := &bytesWriter{buf: buf}
	if err := im.improveTmpl.Execute(w, improveData{Content: content}); err != nil {
		return "", err
	}
	return string(w.buf), nil
}

type predictData struct{ Memories []string }

func (im *Improver) renderPredictPrompt(contents []string) (string, error) {
	var buf []byte
	w := &bytesWriter{buf: buf}
	if err := im.predictTmpl.Execute(w, predictData{Memories: contents}); err != nil {
		return "", err
	}
	return string(w.buf), nil
}

type bytesWriter struct{ buf []byte }

func (w *bytesWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

// extractJSONArray trims everything outside the outermost [...] pair, tolerating the
// occasional leading/trailing prose an LLM adds around a requested JSON response.
func extractJSONArray(s string) string {
	start, end := -1, -1
	for i, r := range s {
		if r == '[' && start == -1 {
			start = i
		}
		if r == ']' {
			end = i
		}
	}
	if start == -1 || end == -1 || end < start {
		return "[]"
	}
	return s[start : end+1]
}

const improvePromptTemplate = `You are rewriting a single stored memory for clarity and concision. Preserve every fact; remove filler. The rewrite must not be longer than the original.

**Original:**
{{.Content}}

Respond with only the rewritten memory text, no preamble.`

const predictPromptTemplate = `Given these recent high-importance memories, propose up to 5 short predictions about what the user may need next. Each prediction names the recurring pattern it comes from.

{{range .Memories}}- {{.}}
{{end}}

Respond with only a JSON array, each element shaped like:
{"content": "...", "type": "...", "priority": 0.0, "pattern_name": "..."}`
