package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testModels = map[string]string{ModelPhi3: "phi3:3.8b", ModelGemma3: "gemma3:1b"}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// newServer answers /generate with reply and records the last request.
func newServer(t *testing.T, status int, reply string) (*httptest.Server, *generateRequest) {
	t.Helper()
	var got generateRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestGenerate(t *testing.T) {
	reply := `{"model":"phi3:3.8b","response":"Hello there.","done":true}`
	srv, got := newServer(t, http.StatusOK, reply)
	c := NewClient(srv.URL+"/api/", testModels, time.Second, nil)

	g, err := c.Generate(context.Background(), "Say hello", "")
	require.NoError(t, err)

	assert.Equal(t, generateRequest{Model: "phi3:3.8b", Prompt: "Say hello", Stream: false}, *got)
	assert.Equal(t, "phi3:3.8b", g.Model)
	assert.Equal(t, "Hello there.", g.Response)
	assert.JSONEq(t, reply, string(g.Raw))
}

func TestRunUsesTaskPromptAndModel(t *testing.T) {
	srv, got := newServer(t, http.StatusOK, `{"response":"uncertain"}`)
	c := NewClient(srv.URL+"/api", testModels, time.Second, nil)

	_, err := c.Run(context.Background(), QuickCheck, "The bridge opened in 1990.", "")
	require.NoError(t, err)
	assert.Equal(t, "gemma3:1b", got.Model)
	assert.Equal(t, "Quickly verify this claim (true/false/uncertain):\n\nThe bridge opened in 1990.", got.Prompt)

	_, err = c.Run(context.Background(), Summarize, "text", ModelPhi3)
	require.NoError(t, err)
	assert.Equal(t, "phi3:3.8b", got.Model)

	_, err = c.Run(context.Background(), Analyze, "text", "gemma3:1b")
	require.NoError(t, err)
	assert.Equal(t, "gemma3:1b", got.Model, "configured tags are accepted as well as aliases")
}

func TestUnknownModel(t *testing.T) {
	c := NewClient("http://127.0.0.1:1/api", testModels, time.Second, nil)

	_, err := c.Generate(context.Background(), "p", "llama")
	assert.ErrorIs(t, err, ErrUnknownModel)
	assert.Contains(t, err.Error(), "gemma3, phi3")
}

func TestUpstreamFailureIsUnavailable(t *testing.T) {
	srv, _ := newServer(t, http.StatusInternalServerError, `{"error":"model not loaded"}`)
	c := NewClient(srv.URL+"/api", testModels, time.Second, nil)

	_, err := c.Generate(context.Background(), "p", ModelPhi3)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "model not loaded")

	srv.Close()
	_, err = c.Generate(context.Background(), "p", ModelPhi3)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestExtractText(t *testing.T) {
	cases := map[string]string{
		`{"response":"a"}`:                            "a",
		`{"text":"b"}`:                                "b",
		`{"choices":[{"text":"c"}]}`:                  "c",
		`{"choices":[{"message":{"content":"d"}}]}`:   "d",
		`{"results":[{"response":"e"},{"text":"f"}]}`: "ef",
		"  plain words \n":                            "plain words",
		`{"response":"","text":"","other":"ignored"}`: `{"response":"","text":"","other":"ignored"}`,
	}
	for body, want := range cases {
		assert.Equal(t, want, extractText([]byte(body)), body)
	}
}

func TestModelsIsCopy(t *testing.T) {
	c := NewClient("http://x/api", testModels, 0, nil)
	m := c.Models()
	m[ModelPhi3] = "changed"
	assert.Equal(t, "phi3:3.8b", c.Models()[ModelPhi3])
}
