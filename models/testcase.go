package models

// TestCase is one documentation-grounded test case produced by the generator.
// GroundedIn lists the source documents the case was derived from; every entry
// must name a source that was actually retrieved for the generation request.
type TestCase struct {
	TestID         string   `json:"test_id"`
	Feature        string   `json:"feature"`
	TestScenario   string   `json:"test_scenario"`
	ExpectedResult string   `json:"expected_result"`
	TriggeringRule string   `json:"triggering_rule,omitempty"`
	GroundedIn     []string `json:"grounded_in"`
}

// GeneratedScript is one automation script produced for a test case. Generation
// is not deterministic; the session keeps only the most recent script per test id.
type GeneratedScript struct {
	TestID string `json:"test_id"`
	Body   string `json:"body"`
}

// BuildReport summarizes a completed knowledge base build.
type BuildReport struct {
	DocCount      int `json:"doc_count"`
	HTMLSizeBytes int `json:"html_size_bytes"`
	ChunkCount    int `json:"chunk_count"`
}
