package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/memoryd/memoryd/internal/types"
)

// OllamaStrategy extracts entities with a local LLM instead of regex shape-matching. It
// is strictly additive: NewOllamaStrategy fails fast if no Ollama host is reachable, and
// Pipeline simply runs without it in that case.
type OllamaStrategy struct {
	client *api.Client
	model  string
}

// defaultOllamaModel is used when no model is configured; it is small enough to run
// locally alongside the daemon's other periodic jobs.
const defaultOllamaModel = "llama3.2:3b"

// NewOllamaStrategy constructs an OllamaStrategy, probing the host's availability before
// returning so Pipeline never silently carries a strategy that will fail on every call.
func NewOllamaStrategy(model string) (*OllamaStrategy, error) {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}
	if model == "" {
		model = defaultOllamaModel
	}
	s := &OllamaStrategy{client: client, model: model}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if !s.Available(ctx) {
		return nil, fmt.Errorf("ollama host not reachable")
	}
	return s, nil
}

func (o *OllamaStrategy) Name() string { return "ollama" }

// Available reports whether the Ollama host answers within a short timeout.
func (o *OllamaStrategy) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err := o.client.List(ctx)
	return err == nil
}

type ollamaResponse struct {
	Entities []struct {
		Name json.RawMessage `json:"name"`
		Type string          `json:"type"`
	} `json:"entities"`
}

const extractionPrompt = `You are an entity extractor for a personal memory store.

From this note, extract the people, organizations, projects, and concepts mentioned.

RULES:
1. Output ONLY a valid JSON object.
2. The object MUST have exactly one key: "entities".
3. "entities" MUST be an array of objects with "name" (string) and "type" (string).
4. "type" MUST be one of: person, organization, project, concept, other.
5. "name" must be a single string (NOT an array).
6. DO NOT include headers, descriptions, or explanations.

Note:
%s

Required Output Format:
{
  "entities": [
    {"name": "Sarah Chen", "type": "person"},
    {"name": "Acme Corp", "type": "organization"}
  ]
}
`

// Extract asks the local model to read text and return entity candidates. It returns an
// error (rather than degrading silently) so Pipeline can log and fall back to the other
// configured strategies for this call.
func (o *OllamaStrategy) Extract(ctx context.Context, text string) ([]Candidate, error) {
	if !o.Available(ctx) {
		return nil, fmt.Errorf("ollama service not available")
	}

	prompt := fmt.Sprintf(extractionPrompt, text)
	streamOff := false
	req := &api.GenerateRequest{
		Model:  o.model,
		Prompt: prompt,
		Format: json.RawMessage(`"json"`),
		Stream: &streamOff,
	}

	var respText string
	err := o.client.Generate(ctx, req, func(resp api.GenerateResponse) error {
		respText = resp.Response
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama generation failed: %w", err)
	}

	var parsed ollamaResponse
	if err := json.Unmarshal([]byte(cleanJSON(respText)), &parsed); err != nil {
		return nil, fmt.Errorf("parse ollama response: %w (response: %s)", err, respText)
	}

	var out []Candidate
	for _, e := range parsed.Entities {
		name, ok := decodeName(e.Name)
		if !ok || len(strings.TrimSpace(name)) < 2 {
			continue
		}
		out = append(out, Candidate{
			Name:       name,
			Type:       parseEntityType(e.Type),
			Confidence: 1.0,
			Source:     "ollama",
		})
	}
	return out, nil
}

// decodeName tolerates a model that returns an array of names instead of a single string,
// taking the first element in that case (observed failure mode of small local models).
func decodeName(raw json.RawMessage) (string, bool) {
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		return name, true
	}
	var names []string
	if err := json.Unmarshal(raw, &names); err == nil && len(names) > 0 {
		return names[0], true
	}
	return "", false
}

func parseEntityType(s string) types.EntityType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "person":
		return types.EntityPerson
	case "organization", "org":
		return types.EntityOrganization
	case "project":
		return types.EntityProject
	case "concept":
		return types.EntityConcept
	default:
		return types.EntityOther
	}
}

func cleanJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
