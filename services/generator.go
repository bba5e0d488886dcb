package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"

	"qa-agent/models"
)

// DefaultTemperature keeps generation close to the documentation instead of
// creative.
const DefaultTemperature float32 = 0.1

const (
	stageTestCases = "test_cases"
	stageScript    = "script"
)

// GeneratorService runs the two grounded generation stages against a READY
// knowledge base: objective → test cases, and test case + raw page markup →
// automation script. Structured output is validated on receipt; a test case
// citing a source outside the retrieved context is rejected rather than
// silently accepted.
type GeneratorService struct {
	kb          *KnowledgeBase
	backend     GenerativeBackend
	topK        int
	temperature float32
}

// NewGeneratorService wires the generator over a knowledge base handle and a
// generative backend. topK bounds how many chunks each stage retrieves.
func NewGeneratorService(kb *KnowledgeBase, backend GenerativeBackend, topK int) *GeneratorService {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &GeneratorService{
		kb:          kb,
		backend:     backend,
		topK:        topK,
		temperature: DefaultTemperature,
	}
}

// GenerateTestCases retrieves support-doc context for the objective and asks
// the backend for a strict JSON array of test cases. Returned records are
// schema-validated, grounding-validated against the retrieved source names,
// and renumbered TC-001… when the backend omits or duplicates ids.
func (g *GeneratorService) GenerateTestCases(ctx context.Context, objective string) ([]models.TestCase, error) {
	if strings.TrimSpace(objective) == "" {
		return nil, fmt.Errorf("objective must not be blank")
	}

	if err := g.kb.BeginGeneration(StateGeneratingTests); err != nil {
		return nil, err
	}
	defer g.kb.EndGeneration()

	log.Printf("SERVICE: Generating test cases for objective: '%s'", objective)

	chunks, err := g.kb.Retrieve(ctx, objective, g.topK, models.SourceSupportDoc)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, &GenerationError{Stage: stageTestCases,
			Err: errors.New("no support documentation retrieved; build the knowledge base with at least one support document")}
	}

	raw, err := g.backend.Complete(ctx, CompletionRequest{
		System:           testCaseSystemPrompt(),
		Prompt:           buildTestCasePrompt(objective, chunks),
		Temperature:      g.temperature,
		WantTestCaseJSON: true,
	})
	if err != nil {
		return nil, &GenerationError{Stage: stageTestCases, Err: err}
	}

	parsed, err := parseTestCases(raw)
	if err != nil {
		return nil, &GenerationError{Stage: stageTestCases, Err: err}
	}

	retrieved := retrievedSourceNames(chunks)
	cases, violation := enforceGrounding(parsed, retrieved)
	if len(cases) == 0 {
		if violation != nil {
			return nil, violation
		}
		return nil, &GenerationError{Stage: stageTestCases, Err: errors.New("backend returned no usable test cases")}
	}

	normalizeTestIDs(cases)
	log.Printf("SERVICE: Generated %d test cases.", len(cases))
	return cases, nil
}

// GenerateScript turns one test case into a runnable automation script. The
// full raw page markup goes into the request verbatim; retrieved support-doc
// chunks supply the expected-behavior context. Code output is taken
// best-effort after cleanup, with no grounding validation.
func (g *GeneratorService) GenerateScript(ctx context.Context, tc models.TestCase) (models.GeneratedScript, error) {
	if err := g.kb.BeginGeneration(StateGeneratingScript); err != nil {
		return models.GeneratedScript{}, err
	}
	defer g.kb.EndGeneration()

	log.Printf("SERVICE: Generating script for test case %s.", tc.TestID)

	rawHTML, err := g.kb.GetRawHTML()
	if err != nil {
		return models.GeneratedScript{}, err
	}
	if strings.TrimSpace(rawHTML) == "" {
		return models.GeneratedScript{}, &GenerationError{Stage: stageScript,
			Err: errors.New("knowledge base has no target page markup; rebuild with html_content")}
	}

	chunks, err := g.kb.Retrieve(ctx, tc.TestScenario, g.topK, models.SourceSupportDoc)
	if err != nil {
		return models.GeneratedScript{}, err
	}

	raw, err := g.backend.Complete(ctx, CompletionRequest{
		System:      scriptSystemPrompt(),
		Prompt:      buildScriptPrompt(tc, rawHTML, chunks),
		Temperature: g.temperature,
	})
	if err != nil {
		return models.GeneratedScript{}, &GenerationError{Stage: stageScript, Err: err}
	}

	body := cleanScriptResponse(raw)
	if body == "" {
		return models.GeneratedScript{}, &GenerationError{Stage: stageScript,
			Err: errors.New("backend returned an empty script body")}
	}
	return models.GeneratedScript{TestID: tc.TestID, Body: body}, nil
}

// retrievedSourceNames collects the distinct source names present in the
// retrieved context, preserving first-seen order.
func retrievedSourceNames(chunks []models.Chunk) []string {
	seen := make(map[string]bool, len(chunks))
	names := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		if !seen[chunk.SourceName] {
			seen[chunk.SourceName] = true
			names = append(names, chunk.SourceName)
		}
	}
	return names
}

// enforceGrounding drops records that cite sources outside the retrieved
// context. The first violation is kept so the caller has a typed error when
// nothing survives.
func enforceGrounding(cases []models.TestCase, retrieved []string) ([]models.TestCase, *GroundingViolationError) {
	allowed := make(map[string]bool, len(retrieved))
	for _, name := range retrieved {
		allowed[name] = true
	}

	kept := make([]models.TestCase, 0, len(cases))
	var firstViolation *GroundingViolationError
	for _, tc := range cases {
		var unknown []string
		for _, name := range tc.GroundedIn {
			if !allowed[name] {
				unknown = append(unknown, name)
			}
		}
		if len(unknown) > 0 {
			violation := &GroundingViolationError{TestID: tc.TestID, UnknownSources: unknown, Retrieved: retrieved}
			if firstViolation == nil {
				firstViolation = violation
			}
			log.Printf("SERVICE: WARN: Rejecting ungrounded test case: %v", violation)
			continue
		}
		kept = append(kept, tc)
	}
	return kept, firstViolation
}

// normalizeTestIDs keeps backend-assigned ids only when every record has a
// unique one; otherwise the whole batch is renumbered so ids stay monotonic.
func normalizeTestIDs(cases []models.TestCase) {
	seen := make(map[string]bool, len(cases))
	valid := true
	for _, tc := range cases {
		id := strings.TrimSpace(tc.TestID)
		if id == "" || seen[id] {
			valid = false
			break
		}
		seen[id] = true
	}
	if valid {
		return
	}
	for i := range cases {
		cases[i].TestID = fmt.Sprintf("TC-%03d", i+1)
	}
}

// parseTestCases recovers the test-case array from the raw completion text.
// Backends without native schema support tend to wrap JSON in markdown fences
// or stray prose, so parsing runs against the cleaned text, then against a
// {"test_cases": [...]} envelope, then against the outermost bracketed slice.
func parseTestCases(raw string) ([]models.TestCase, error) {
	cleaned := cleanJSONResponse(raw)

	var cases []models.TestCase
	if err := json.Unmarshal([]byte(cleaned), &cases); err == nil {
		return validateTestCaseShapes(cases)
	}

	var envelope struct {
		TestCases []models.TestCase `json:"test_cases"`
	}
	if err := json.Unmarshal([]byte(cleaned), &envelope); err == nil && len(envelope.TestCases) > 0 {
		return validateTestCaseShapes(envelope.TestCases)
	}

	if extracted := extractJSONArray(cleaned); extracted != "" {
		if err := json.Unmarshal([]byte(extracted), &cases); err == nil {
			return validateTestCaseShapes(cases)
		}
	}
	return nil, fmt.Errorf("backend response is not a test-case JSON array: %.200s", raw)
}

// validateTestCaseShapes drops records missing required fields. A record with
// no grounded_in entries is untraceable and counts as malformed.
func validateTestCaseShapes(cases []models.TestCase) ([]models.TestCase, error) {
	kept := make([]models.TestCase, 0, len(cases))
	for _, tc := range cases {
		if strings.TrimSpace(tc.Feature) == "" ||
			strings.TrimSpace(tc.TestScenario) == "" ||
			strings.TrimSpace(tc.ExpectedResult) == "" ||
			len(tc.GroundedIn) == 0 {
			log.Printf("SERVICE: WARN: Skipping malformed test case record: %+v", tc)
			continue
		}
		kept = append(kept, tc)
	}
	if len(kept) == 0 {
		return nil, errors.New("no record matched the test-case shape")
	}
	return kept, nil
}

var (
	codeFence     = regexp.MustCompile("(?s)```[a-zA-Z]*\\n?(.*?)```")
	lineComments  = regexp.MustCompile(`(?m)^\s*//.*$`)
	blockComments = regexp.MustCompile(`(?s)/\*.*?\*/`)
	trailingComma = regexp.MustCompile(`,\s*([\]}])`)
)

// cleanJSONResponse strips the decoration generative backends wrap around
// JSON: markdown fences, comments, trailing commas and surrounding prose.
func cleanJSONResponse(raw string) string {
	s := strings.TrimSpace(raw)

	if m := codeFence.FindStringSubmatch(s); len(m) > 1 {
		s = strings.TrimSpace(m[1])
	}

	s = lineComments.ReplaceAllString(s, "")
	s = blockComments.ReplaceAllString(s, "")
	s = trailingComma.ReplaceAllString(s, "$1")

	if bounded := extractJSONBounds(s); bounded != "" {
		s = bounded
	}
	return strings.TrimSpace(s)
}

// extractJSONBounds cuts the text down to the outermost JSON array or object.
func extractJSONBounds(s string) string {
	arrStart := strings.Index(s, "[")
	objStart := strings.Index(s, "{")

	start := arrStart
	closer := "]"
	if start == -1 || (objStart != -1 && objStart < arrStart) {
		start = objStart
		closer = "}"
	}
	if start == -1 {
		return ""
	}
	end := strings.LastIndex(s, closer)
	if end <= start {
		return ""
	}
	return s[start : end+1]
}

// extractJSONArray cuts the text down to the outermost JSON array only.
func extractJSONArray(s string) string {
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start == -1 || end <= start {
		return ""
	}
	return s[start : end+1]
}

// cleanScriptResponse normalizes a code completion into a bare script body:
// markdown fences go, prose before the first code line goes, and an entirely
// escaped body ("\n" literals instead of newlines) is unescaped.
func cleanScriptResponse(raw string) string {
	s := strings.TrimSpace(raw)

	if m := codeFence.FindStringSubmatch(s); len(m) > 1 {
		s = strings.TrimSpace(m[1])
	}

	if strings.Count(s, "\n") < 3 && strings.Contains(s, `\n`) {
		s = strings.ReplaceAll(s, `\n`, "\n")
	}

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "import ") ||
			strings.HasPrefix(trimmed, "from ") ||
			strings.HasPrefix(trimmed, "#") ||
			strings.HasPrefix(trimmed, `"""`) {
			s = strings.Join(lines[i:], "\n")
			break
		}
	}
	return strings.TrimSpace(s)
}
