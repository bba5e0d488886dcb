package services

import "google.golang.org/genai"

// testCaseArraySchema describes the strict shape the test-case stage demands
// from the generative backend: a JSON array of test-case records. Backends
// with native schema support (Gemini) enforce it server-side; the prompt
// restates the same contract for backends without it.
func testCaseArraySchema() *genai.Schema {
	return &genai.Schema{
		Type:        genai.TypeArray,
		Description: "Documentation-grounded test cases for the target web page.",
		Items: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"test_id": {
					Type:        genai.TypeString,
					Description: "Sequential identifier in the form TC-001, TC-002, ... May be omitted; ids are assigned on receipt.",
				},
				"feature": {
					Type:        genai.TypeString,
					Description: "The product feature under test, e.g. 'Discount Code'.",
				},
				"test_scenario": {
					Type:        genai.TypeString,
					Description: "One concrete scenario to execute, a single sentence.",
				},
				"expected_result": {
					Type:        genai.TypeString,
					Description: "The observable outcome the documentation promises for this scenario.",
				},
				"triggering_rule": {
					Type:        genai.TypeString,
					Description: "The documentation rule or constraint that motivated this case.",
				},
				"grounded_in": {
					Type:        genai.TypeArray,
					Description: "Names of the provided context documents this case is derived from. Only names that appear in the context are allowed.",
					Items:       &genai.Schema{Type: genai.TypeString},
				},
			},
			Required: []string{"feature", "test_scenario", "expected_result", "grounded_in"},
		},
	}
}
