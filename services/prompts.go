package services

import (
	"encoding/json"
	"fmt"
	"strings"

	"qa-agent/models"
)

// testCaseSystemPrompt defines the core instructions for the test-case stage.
func testCaseSystemPrompt() string {
	return `You are an expert QA analyst. You design test cases for web applications based STRICTLY on the product documentation you are given.

Rules you must follow:
1. Only use facts stated in the provided context documents. Do not invent features, codes, prices or behaviors that are not documented.
2. Cover positive scenarios, negative scenarios and edge cases for the user's objective.
3. Every test case must cite, in its "grounded_in" list, the exact names of the context documents it is based on. Never cite a document that is not in the context.
4. Respond with a JSON array only. No prose, no markdown fences, no comments. Each element must have the fields: "test_id", "feature", "test_scenario", "expected_result", "triggering_rule", "grounded_in".`
}

// scriptSystemPrompt defines the core instructions for the script stage.
func scriptSystemPrompt() string {
	return `You are an expert Selenium automation engineer. You write complete, runnable Python Selenium scripts for a single test case against a known web page.

Rules you must follow:
1. Use selenium with webdriver.Chrome, explicit waits (WebDriverWait + expected_conditions) and By selectors.
2. Derive every selector from the actual HTML you are given; never guess element ids or names.
3. The script must be self-contained: imports, driver setup, the test steps, an explicit pass/fail print, and driver cleanup in a finally block.
4. Respond with Python source code only. No markdown fences and no explanations before or after the code.`
}

// buildTestCasePrompt assembles the generation request for the test-case
// stage: the retrieved chunks labelled with their source names, then the
// user's objective.
func buildTestCasePrompt(objective string, chunks []models.Chunk) string {
	var sb strings.Builder
	sb.WriteString("CONTEXT DOCUMENTS (the only permitted sources of truth):\n\n")
	for _, chunk := range chunks {
		fmt.Fprintf(&sb, "[Source: %s]\n%s\n\n", chunk.SourceName, chunk.Text)
	}
	sb.WriteString("OBJECTIVE:\n")
	sb.WriteString(objective)
	sb.WriteString("\n\nGenerate the test cases now as a JSON array.")
	return sb.String()
}

// buildScriptPrompt assembles the generation request for the script stage.
// The test case's scenario and expected result appear verbatim (and again
// inside the JSON form) so a failing script is traceable to the authored
// intent, and the page markup is included whole because selector fidelity
// needs the complete DOM, not retrieved fragments.
func buildScriptPrompt(tc models.TestCase, rawHTML string, chunks []models.Chunk) string {
	var sb strings.Builder

	sb.WriteString("TEST CASE TO AUTOMATE:\n")
	fmt.Fprintf(&sb, "Test ID: %s\n", tc.TestID)
	fmt.Fprintf(&sb, "Feature: %s\n", tc.Feature)
	fmt.Fprintf(&sb, "Scenario: %s\n", tc.TestScenario)
	fmt.Fprintf(&sb, "Expected result: %s\n", tc.ExpectedResult)
	if tcJSON, err := json.MarshalIndent(tc, "", "  "); err == nil {
		sb.WriteString("\nTest case as JSON:\n")
		sb.Write(tcJSON)
		sb.WriteString("\n")
	}

	if len(chunks) > 0 {
		sb.WriteString("\nRELEVANT DOCUMENTATION (expected behavior):\n\n")
		for _, chunk := range chunks {
			fmt.Fprintf(&sb, "[Source: %s]\n%s\n\n", chunk.SourceName, chunk.Text)
		}
	}

	sb.WriteString("\nFULL HTML OF THE TARGET PAGE:\n\n")
	sb.WriteString(rawHTML)
	sb.WriteString("\n\nWrite the Python Selenium script now.")
	return sb.String()
}
