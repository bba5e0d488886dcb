package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qa-agent/models"
)

// fakeBackend records every completion request and plays back a canned
// response.
type fakeBackend struct {
	response string
	err      error
	requests []CompletionRequest
}

func (f *fakeBackend) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

const testPageHTML = `<html><body><input id="promo-code"><button id="apply-btn">Apply</button></body></html>`

// builtGenerator returns a generator over a READY knowledge base with one
// promo policy document and the target page.
func builtGenerator(t *testing.T, backend *fakeBackend) *GeneratorService {
	t.Helper()
	kb, _, _ := newTestKB(t)
	_, err := kb.Build(context.Background(), []models.Document{
		supportDoc("promo.md", "Customers can apply promo code SAVE15 at checkout for a 15 percent discount."),
		supportDoc("returns.md", "Returns are accepted within 30 days of purchase."),
		htmlDoc(testPageHTML),
	})
	require.NoError(t, err)
	return NewGeneratorService(kb, backend, 5)
}

func TestGenerateTestCasesParsesFencedJSON(t *testing.T) {
	backend := &fakeBackend{response: "```json\n[\n" +
		`  {"test_id": "TC-001", "feature": "Promo codes", "test_scenario": "Apply SAVE15 at checkout", "expected_result": "Total drops by 15 percent", "triggering_rule": "SAVE15 gives 15 percent off", "grounded_in": ["promo.md"]}` +
		"\n]\n```"}
	gen := builtGenerator(t, backend)

	cases, err := gen.GenerateTestCases(context.Background(), "validate the promo code flow")
	require.NoError(t, err)

	require.Len(t, cases, 1)
	assert.Equal(t, "TC-001", cases[0].TestID)
	assert.Equal(t, "Promo codes", cases[0].Feature)
	assert.Equal(t, []string{"promo.md"}, cases[0].GroundedIn)

	require.Len(t, backend.requests, 1)
	req := backend.requests[0]
	assert.True(t, req.WantTestCaseJSON)
	assert.NotEmpty(t, req.System)
	assert.InDelta(t, 0.1, req.Temperature, 1e-6)
	assert.Contains(t, req.Prompt, "OBJECTIVE")
	assert.Contains(t, req.Prompt, "validate the promo code flow")
	assert.Contains(t, req.Prompt, "[Source: promo.md]")
	assert.Contains(t, req.Prompt, "SAVE15")

	assert.Equal(t, StateReady, gen.kb.State(), "generation must release the knowledge base")
}

func TestGenerateTestCasesParsesEnvelopeAndProse(t *testing.T) {
	record := `{"test_id": "TC-001", "feature": "Promo", "test_scenario": "Apply SAVE15", "expected_result": "Discount applied", "grounded_in": ["promo.md"]}`

	t.Run("test_cases envelope", func(t *testing.T) {
		backend := &fakeBackend{response: `{"test_cases": [` + record + `]}`}
		gen := builtGenerator(t, backend)
		cases, err := gen.GenerateTestCases(context.Background(), "promo flow")
		require.NoError(t, err)
		assert.Len(t, cases, 1)
	})

	t.Run("surrounding prose", func(t *testing.T) {
		backend := &fakeBackend{response: "Here are the generated cases:\n[" + record + "]\nLet me know if you need more."}
		gen := builtGenerator(t, backend)
		cases, err := gen.GenerateTestCases(context.Background(), "promo flow")
		require.NoError(t, err)
		assert.Len(t, cases, 1)
	})

	t.Run("trailing commas and comments", func(t *testing.T) {
		backend := &fakeBackend{response: "[\n// generated\n" + record + ",\n]"}
		gen := builtGenerator(t, backend)
		cases, err := gen.GenerateTestCases(context.Background(), "promo flow")
		require.NoError(t, err)
		assert.Len(t, cases, 1)
	})
}

func TestGenerateTestCasesRejectsUngroundedBatch(t *testing.T) {
	backend := &fakeBackend{response: `[{"test_id": "TC-001", "feature": "Promo", "test_scenario": "Apply SAVE15", "expected_result": "Discount applied", "grounded_in": ["wikipedia.org"]}]`}
	gen := builtGenerator(t, backend)

	_, err := gen.GenerateTestCases(context.Background(), "promo flow")
	require.Error(t, err)

	var violation *GroundingViolationError
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, "TC-001", violation.TestID)
	assert.Equal(t, []string{"wikipedia.org"}, violation.UnknownSources)
	assert.Contains(t, violation.Retrieved, "promo.md")

	assert.Equal(t, StateReady, gen.kb.State())
}

func TestGenerateTestCasesDropsViolatorsKeepsGrounded(t *testing.T) {
	backend := &fakeBackend{response: `[
		{"test_id": "TC-001", "feature": "Promo", "test_scenario": "Apply SAVE15", "expected_result": "Discount applied", "grounded_in": ["promo.md"]},
		{"test_id": "TC-002", "feature": "Promo", "test_scenario": "Invented behavior", "expected_result": "Made up", "grounded_in": ["promo.md", "imaginary.md"]}
	]`}
	gen := builtGenerator(t, backend)

	cases, err := gen.GenerateTestCases(context.Background(), "promo flow")
	require.NoError(t, err)

	require.Len(t, cases, 1)
	assert.Equal(t, "Apply SAVE15", cases[0].TestScenario)
}

func TestGenerateTestCasesNormalizesIDs(t *testing.T) {
	t.Run("missing ids renumbered", func(t *testing.T) {
		backend := &fakeBackend{response: `[
			{"feature": "A", "test_scenario": "s1", "expected_result": "r1", "grounded_in": ["promo.md"]},
			{"feature": "B", "test_scenario": "s2", "expected_result": "r2", "grounded_in": ["promo.md"]}
		]`}
		gen := builtGenerator(t, backend)
		cases, err := gen.GenerateTestCases(context.Background(), "promo flow")
		require.NoError(t, err)
		require.Len(t, cases, 2)
		assert.Equal(t, "TC-001", cases[0].TestID)
		assert.Equal(t, "TC-002", cases[1].TestID)
	})

	t.Run("duplicate ids renumbered", func(t *testing.T) {
		backend := &fakeBackend{response: `[
			{"test_id": "TC-001", "feature": "A", "test_scenario": "s1", "expected_result": "r1", "grounded_in": ["promo.md"]},
			{"test_id": "TC-001", "feature": "B", "test_scenario": "s2", "expected_result": "r2", "grounded_in": ["promo.md"]}
		]`}
		gen := builtGenerator(t, backend)
		cases, err := gen.GenerateTestCases(context.Background(), "promo flow")
		require.NoError(t, err)
		require.Len(t, cases, 2)
		assert.Equal(t, "TC-001", cases[0].TestID)
		assert.Equal(t, "TC-002", cases[1].TestID)
	})

	t.Run("unique backend ids kept", func(t *testing.T) {
		backend := &fakeBackend{response: `[
			{"test_id": "TC-7", "feature": "A", "test_scenario": "s1", "expected_result": "r1", "grounded_in": ["promo.md"]},
			{"test_id": "TC-9", "feature": "B", "test_scenario": "s2", "expected_result": "r2", "grounded_in": ["promo.md"]}
		]`}
		gen := builtGenerator(t, backend)
		cases, err := gen.GenerateTestCases(context.Background(), "promo flow")
		require.NoError(t, err)
		require.Len(t, cases, 2)
		assert.Equal(t, "TC-7", cases[0].TestID)
		assert.Equal(t, "TC-9", cases[1].TestID)
	})
}

func TestGenerateTestCasesDropsMalformedRecords(t *testing.T) {
	backend := &fakeBackend{response: `[
		{"test_id": "TC-001", "feature": "Promo", "test_scenario": "Apply SAVE15", "expected_result": "Discount applied", "grounded_in": ["promo.md"]},
		{"test_id": "TC-002", "feature": "Promo", "test_scenario": "", "expected_result": "", "grounded_in": ["promo.md"]},
		{"test_id": "TC-003", "feature": "Promo", "test_scenario": "No citations", "expected_result": "r", "grounded_in": []}
	]`}
	gen := builtGenerator(t, backend)

	cases, err := gen.GenerateTestCases(context.Background(), "promo flow")
	require.NoError(t, err)
	require.Len(t, cases, 1)
	assert.Equal(t, "TC-001", cases[0].TestID)
}

func TestGenerateTestCasesBackendAndParseFailures(t *testing.T) {
	t.Run("backend error", func(t *testing.T) {
		backend := &fakeBackend{err: errors.New("backend exploded")}
		gen := builtGenerator(t, backend)
		_, err := gen.GenerateTestCases(context.Background(), "promo flow")
		var genErr *GenerationError
		require.ErrorAs(t, err, &genErr)
		assert.Equal(t, "test_cases", genErr.Stage)
		assert.ErrorContains(t, err, "backend exploded")
		assert.Equal(t, StateReady, gen.kb.State())
	})

	t.Run("non-JSON response", func(t *testing.T) {
		backend := &fakeBackend{response: "I cannot help with that."}
		gen := builtGenerator(t, backend)
		_, err := gen.GenerateTestCases(context.Background(), "promo flow")
		var genErr *GenerationError
		require.ErrorAs(t, err, &genErr)
	})

	t.Run("all records malformed", func(t *testing.T) {
		backend := &fakeBackend{response: `[{"feature": "", "test_scenario": "", "expected_result": "", "grounded_in": []}]`}
		gen := builtGenerator(t, backend)
		_, err := gen.GenerateTestCases(context.Background(), "promo flow")
		var genErr *GenerationError
		require.ErrorAs(t, err, &genErr)
	})
}

func TestGenerateTestCasesRequiresBuiltKnowledgeBase(t *testing.T) {
	kb, _, _ := newTestKB(t)
	backend := &fakeBackend{response: "[]"}
	gen := NewGeneratorService(kb, backend, 5)

	_, err := gen.GenerateTestCases(context.Background(), "promo flow")
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.Empty(t, backend.requests, "the backend must not be called before a build")
}

func TestGenerateTestCasesRejectsBlankObjective(t *testing.T) {
	backend := &fakeBackend{response: "[]"}
	gen := builtGenerator(t, backend)

	_, err := gen.GenerateTestCases(context.Background(), "   ")
	require.Error(t, err)
	assert.Empty(t, backend.requests)
}

func promoTestCase() models.TestCase {
	return models.TestCase{
		TestID:         "TC-001",
		Feature:        "Promo codes",
		TestScenario:   "Apply SAVE15 at checkout",
		ExpectedResult: "Total drops by 15 percent",
		GroundedIn:     []string{"promo.md"},
	}
}

func TestGenerateScriptBuildsPromptFromCaseAndPage(t *testing.T) {
	backend := &fakeBackend{response: "```python\nfrom selenium import webdriver\ndriver = webdriver.Chrome()\n```"}
	gen := builtGenerator(t, backend)

	script, err := gen.GenerateScript(context.Background(), promoTestCase())
	require.NoError(t, err)

	assert.Equal(t, "TC-001", script.TestID)
	assert.Equal(t, "from selenium import webdriver\ndriver = webdriver.Chrome()", script.Body)

	require.Len(t, backend.requests, 1)
	req := backend.requests[0]
	assert.False(t, req.WantTestCaseJSON)
	assert.Contains(t, req.Prompt, "Scenario: Apply SAVE15 at checkout")
	assert.Contains(t, req.Prompt, "Expected result: Total drops by 15 percent")
	assert.Contains(t, req.Prompt, testPageHTML, "the full page markup goes into the prompt verbatim")

	assert.Equal(t, StateReady, gen.kb.State())
}

func TestGenerateScriptCleansBackendOutput(t *testing.T) {
	t.Run("escaped newlines", func(t *testing.T) {
		backend := &fakeBackend{response: `from selenium import webdriver\ndriver = webdriver.Chrome()\ndriver.quit()`}
		gen := builtGenerator(t, backend)
		script, err := gen.GenerateScript(context.Background(), promoTestCase())
		require.NoError(t, err)
		assert.Equal(t, "from selenium import webdriver\ndriver = webdriver.Chrome()\ndriver.quit()", script.Body)
	})

	t.Run("leading prose", func(t *testing.T) {
		backend := &fakeBackend{response: "Sure! Here is the script you asked for:\nimport time\nfrom selenium import webdriver\ndriver = webdriver.Chrome()\ntime.sleep(1)"}
		gen := builtGenerator(t, backend)
		script, err := gen.GenerateScript(context.Background(), promoTestCase())
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(script.Body, "import time"), "prose before the first code line must be dropped")
		assert.Contains(t, script.Body, "webdriver.Chrome()")
	})
}

func TestGenerateScriptFailures(t *testing.T) {
	t.Run("backend error", func(t *testing.T) {
		backend := &fakeBackend{err: errors.New("timeout")}
		gen := builtGenerator(t, backend)
		_, err := gen.GenerateScript(context.Background(), promoTestCase())
		var genErr *GenerationError
		require.ErrorAs(t, err, &genErr)
		assert.Equal(t, "script", genErr.Stage)
		assert.Equal(t, StateReady, gen.kb.State())
	})

	t.Run("empty body", func(t *testing.T) {
		backend := &fakeBackend{response: "```python\n\n```"}
		gen := builtGenerator(t, backend)
		_, err := gen.GenerateScript(context.Background(), promoTestCase())
		var genErr *GenerationError
		require.ErrorAs(t, err, &genErr)
	})

	t.Run("knowledge base never built", func(t *testing.T) {
		kb, _, _ := newTestKB(t)
		gen := NewGeneratorService(kb, &fakeBackend{response: "x"}, 5)
		_, err := gen.GenerateScript(context.Background(), promoTestCase())
		assert.ErrorIs(t, err, ErrNotInitialized)
	})

	t.Run("no target page in corpus", func(t *testing.T) {
		kb, _, _ := newTestKB(t)
		_, err := kb.Build(context.Background(), []models.Document{
			supportDoc("promo.md", "Promo code SAVE15 gives 15 percent off at checkout."),
		})
		require.NoError(t, err)
		gen := NewGeneratorService(kb, &fakeBackend{response: "x"}, 5)
		_, err = gen.GenerateScript(context.Background(), promoTestCase())
		var genErr *GenerationError
		require.ErrorAs(t, err, &genErr)
		assert.ErrorContains(t, err, "no target page markup")
	})
}

func TestGenerateTestCasesRequiresSupportDocs(t *testing.T) {
	kb, _, _ := newTestKB(t)
	_, err := kb.Build(context.Background(), []models.Document{htmlDoc(testPageHTML)})
	require.NoError(t, err)

	backend := &fakeBackend{response: "[]"}
	gen := NewGeneratorService(kb, backend, 5)

	_, err = gen.GenerateTestCases(context.Background(), "promo flow")
	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.ErrorContains(t, err, "no support documentation")
	assert.Empty(t, backend.requests)
}
