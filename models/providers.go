package models

// OllamaEmbedRequest is used to structure the request to the Ollama embedding API.
type OllamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// OllamaEmbedResponse is used to parse the embedding from the Ollama API response.
type OllamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// OpenAIEmbedRequest is the body of an OpenAI-compatible /embeddings call.
type OpenAIEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// OpenAIEmbedding is one entry of an embeddings response. Index ties the
// vector back to its input position.
type OpenAIEmbedding struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

// OpenAIEmbedResponse carries one vector per input, ordered by Index.
type OpenAIEmbedResponse struct {
	Data []OpenAIEmbedding `json:"data"`
}

// OpenAIChatMessage is one turn of an OpenAI-compatible chat completion.
type OpenAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OpenAIChatRequest is the body of an OpenAI-compatible /chat/completions call.
type OpenAIChatRequest struct {
	Model       string              `json:"model"`
	Messages    []OpenAIChatMessage `json:"messages"`
	Temperature float32             `json:"temperature"`
}

// OpenAIChatChoice is one candidate completion.
type OpenAIChatChoice struct {
	Message OpenAIChatMessage `json:"message"`
}

// OpenAIAPIError is the error envelope OpenAI-compatible APIs embed in a 200
// or error response body.
type OpenAIAPIError struct {
	Message string `json:"message"`
}

// OpenAIChatResponse carries the completion choices; only the first is consumed.
type OpenAIChatResponse struct {
	Choices []OpenAIChatChoice `json:"choices"`
	Error   *OpenAIAPIError    `json:"error,omitempty"`
}
