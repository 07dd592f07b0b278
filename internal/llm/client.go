// Package llm is a small client for an Ollama-compatible generation API,
// used by the writing assistant endpoints.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/nitesh/factoura_service/internal/logging"
	"github.com/nitesh/factoura_service/internal/metrics"
)

// Model aliases accepted by the API. Each resolves to a configured tag.
const (
	ModelPhi3   = "phi3"
	ModelGemma3 = "gemma3"
)

var (
	// ErrUnavailable wraps every failure to reach the model server or get a
	// 2xx answer from it.
	ErrUnavailable = errors.New("llm service unavailable")
	// ErrUnknownModel means the requested model is neither an alias nor a
	// configured tag.
	ErrUnknownModel = errors.New("unknown model")
)

// Task is a canned prompt with the model it runs on by default.
type Task struct {
	Name     string
	Model    string
	template string
}

var (
	Analyze    = Task{Name: "analyze", Model: ModelPhi3, template: "Analyze the following content for sentiment, bias, and key points:\n\n%s"}
	FactCheck  = Task{Name: "fact-check", Model: ModelPhi3, template: "Verify the following claim and provide evidence:\n\n%s"}
	Summarize  = Task{Name: "summarize", Model: ModelGemma3, template: "Summarize the following content in 3-5 key points:\n\n%s"}
	QuickCheck = Task{Name: "quick-check", Model: ModelGemma3, template: "Quickly verify this claim (true/false/uncertain):\n\n%s"}
)

// Prompt renders the task prompt for input.
func (t Task) Prompt(input string) string { return fmt.Sprintf(t.template, input) }

// Generation is one non-streaming completion. Raw is the upstream body and
// is relayed to API callers as-is.
type Generation struct {
	Model    string          `json:"model"`
	Response string          `json:"response"`
	Raw      json.RawMessage `json:"-"`
}

// Client is a minimal Ollama-compatible LLM client.
type Client struct {
	url    string
	models map[string]string
	hc     *http.Client
}

// NewClient creates a new client. models maps aliases to model tags and must
// contain ModelPhi3, which is the default. If httpClient is nil, a default
// with timeout is used.
func NewClient(url string, models map[string]string, timeout time.Duration, httpClient *http.Client) *Client {
	if httpClient == nil {
		if timeout <= 0 {
			timeout = 2 * time.Minute
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	m := make(map[string]string, len(models))
	for alias, tag := range models {
		m[alias] = tag
	}
	return &Client{url: strings.TrimRight(url, "/"), models: m, hc: httpClient}
}

// Models returns the alias to tag mapping.
func (c *Client) Models() map[string]string {
	out := make(map[string]string, len(c.models))
	for alias, tag := range c.models {
		out[alias] = tag
	}
	return out
}

// resolve maps an alias or a configured tag to the tag sent upstream. An empty
// model selects phi3.
func (c *Client) resolve(model string) (string, error) {
	if model == "" {
		model = ModelPhi3
	}
	if tag, ok := c.models[model]; ok {
		return tag, nil
	}
	for _, tag := range c.models {
		if tag == model {
			return tag, nil
		}
	}
	known := make([]string, 0, len(c.models))
	for alias := range c.models {
		known = append(known, alias)
	}
	sort.Strings(known)
	return "", fmt.Errorf("%w %q, expected one of %s", ErrUnknownModel, model, strings.Join(known, ", "))
}

// Generate sends prompt as-is.
func (c *Client) Generate(ctx context.Context, prompt, model string) (*Generation, error) {
	return c.generate(ctx, "generate", prompt, model)
}

// Run renders the task prompt for input. An empty model uses the task default.
func (c *Client) Run(ctx context.Context, task Task, input, model string) (*Generation, error) {
	if model == "" {
		model = task.Model
	}
	return c.generate(ctx, task.Name, task.Prompt(input), model)
}

func (c *Client) generate(ctx context.Context, task, prompt, model string) (*Generation, error) {
	tag, err := c.resolve(model)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(map[string]any{
		"model":  tag,
		"prompt": prompt,
		"stream": false,
	})
	if err != nil {
		return nil, fmt.Errorf("llm marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.hc.Do(req)
	logging.Ctx(ctx).Debug().
		Str("task", task).
		Str("model", tag).
		Dur("latency", time.Since(start)).
		AnErr("transport_err", err).
		Msg("llm request")
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrUnavailable, err)
		metrics.ObserveLLM(task, tag, err)
		return nil, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err = fmt.Errorf("%w: status=%d body=%s", ErrUnavailable, resp.StatusCode, truncate(respBody, 512))
		metrics.ObserveLLM(task, tag, err)
		return nil, err
	}
	metrics.ObserveLLM(task, tag, nil)

	g := &Generation{Model: tag, Response: extractText(respBody)}
	if json.Valid(respBody) {
		g.Raw = json.RawMessage(respBody)
	}
	return g, nil
}

// extractText pulls the completion out of the common response shapes:
// {"response"}, {"text"}, {"choices":[{"text"}|{"message":{"content"}}]}
// and {"results":[...]}. Anything else is returned as the trimmed body.
func extractText(body []byte) string {
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return string(bytes.TrimSpace(body))
	}
	if s, ok := m["response"].(string); ok && s != "" {
		return s
	}
	if s, ok := m["text"].(string); ok && s != "" {
		return s
	}
	if choices, ok := m["choices"].([]any); ok && len(choices) > 0 {
		if first, ok := choices[0].(map[string]any); ok {
			if s, ok := first["text"].(string); ok && s != "" {
				return s
			}
			if msg, ok := first["message"].(map[string]any); ok {
				if s, ok := msg["content"].(string); ok && s != "" {
					return s
				}
			}
		}
	}
	if results, ok := m["results"].([]any); ok {
		var buf strings.Builder
		for _, it := range results {
			r, ok := it.(map[string]any)
			if !ok {
				continue
			}
			if s, ok := r["response"].(string); ok {
				buf.WriteString(s)
			} else if s, ok := r["text"].(string); ok {
				buf.WriteString(s)
			}
		}
		if buf.Len() > 0 {
			return buf.String()
		}
	}
	return string(bytes.TrimSpace(body))
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
