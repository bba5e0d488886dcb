package models

type BuildKnowledgeBaseResponse struct {
	Message string      `json:"message"`
	Report  BuildReport `json:"report"`
}

type KnowledgeBaseStatusResponse struct {
	State         string      `json:"state"`
	Ready         bool        `json:"ready"`
	Report        BuildReport `json:"report"`
	SourceNames   []string    `json:"source_names,omitempty"`
	IndexedChunks int         `json:"indexed_chunks"`
}

type TestCasesResponse struct {
	Count     int        `json:"count"`
	TestCases []TestCase `json:"test_cases"`
}

type ScriptResponse struct {
	TestID string `json:"test_id"`
	Script string `json:"script"`
}

type ExportResponse struct {
	Message string `json:"message"`
	Path    string `json:"path"`
}
