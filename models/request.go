package models

type DocumentUpload struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
	Encoding string `json:"encoding,omitempty"` // "base64" (default) or "text"
	MimeType string `json:"mime_type,omitempty"`
}

type BuildKnowledgeBaseRequest struct {
	Documents   []DocumentUpload `json:"documents"`
	HTMLContent string           `json:"html_content"`
}

type GenerateTestCasesRequest struct {
	Objective string `json:"objective"`
}

type SelectTestCaseRequest struct {
	TestID string `json:"test_id"`
}

type GenerateScriptRequest struct {
	TestID string `json:"test_id,omitempty"`
}

type ExportScriptRequest struct {
	TestID string `json:"test_id"`
	Body   string `json:"body,omitempty"`
}
