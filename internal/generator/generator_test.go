package generator_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kickoff/internal/generator"
	"kickoff/internal/validation"
)

const draft = `{"modules":[{"name":"CRM","technical_name":"crm"}],"departments":[{"name":"Satış","tasks":[{"title":"Boru hattı","type":"setup","priority":"high","due_days":5}]}],"project_timeline":{"phases":[{"name":"Analiz","sequence":1}]}}`

func TestExtractJSON(t *testing.T) {
	out, err := generator.ExtractJSON("```json\n" + draft + "\n```")
	require.NoError(t, err)
	assert.JSONEq(t, draft, out)

	out, err = generator.ExtractJSON("Here you go:\n" + draft + "\nGood luck!")
	require.NoError(t, err)
	assert.JSONEq(t, draft, out)

	_, err = generator.ExtractJSON("no json here")
	assert.Error(t, err)
}

func TestParseValidates(t *testing.T) {
	_, err := generator.Parse(`{"modules":[]}`)
	var invalid *validation.InvalidTemplateError
	require.ErrorAs(t, err, &invalid)
	assert.Contains(t, invalid.Result.Errors, "Template must have at least one module")
}

func TestOpenAIGenerator(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var req struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotModel = req.Model
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"choices": []map[string]any{{"index": 0, "message": map[string]any{"role": "assistant", "content": "```json\n" + draft + "\n```"}, "finish_reason": "stop"}},
			"usage":   map[string]any{"prompt_tokens": 10, "completion_tokens": 20, "total_tokens": 30},
		})
	}))
	defer srv.Close()

	g, err := generator.NewOpenAI(generator.Config{BaseURL: srv.URL + "/", Model: "test-model", APIKey: "sk-test"}, zap.NewNop())
	require.NoError(t, err)

	kt, err := g.GenerateKickoff(context.Background(), "Bir satış ekibi için CRM kurulumu")
	require.NoError(t, err)
	assert.Equal(t, "test-model", gotModel)
	require.Len(t, kt.Departments, 1)
	assert.Equal(t, "Satış", kt.Departments[0].Name)

	_, err = g.GenerateKickoff(context.Background(), "  ")
	assert.Error(t, err)
}

func TestNewOpenAIRequiresModel(t *testing.T) {
	_, err := generator.NewOpenAI(generator.Config{BaseURL: "http://x"}, nil)
	assert.Error(t, err)
}
