package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"google.golang.org/genai"

	"qa-agent/controller"
	"qa-agent/services"
)

func main() {
	// Load .env if present; real deployments set the environment directly.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading configuration from the environment")
	}

	// Separate HTTP clients: embedding calls are small and frequent, LLM
	// completions can run long.
	embedHTTP := &http.Client{Timeout: 30 * time.Second}
	llmHTTP := &http.Client{Timeout: 120 * time.Second}

	index, err := buildVectorIndex()
	if err != nil {
		log.Fatalf("FATAL: Failed to set up vector index: %v", err)
	}
	defer func() {
		if err := index.Close(); err != nil {
			log.Printf("Warning: Failed to close vector index: %v", err)
		}
	}()

	embedder := buildEmbedder(embedHTTP)
	backend := buildGenerativeBackend(llmHTTP)

	chunker, err := services.NewChunker(
		getEnvInt("QA_CHUNK_SIZE", services.DefaultChunkSize),
		getEnvInt("QA_CHUNK_OVERLAP", services.DefaultChunkOverlap),
	)
	if err != nil {
		log.Fatalf("FATAL: Invalid chunker configuration: %v", err)
	}

	exporter, err := services.NewExporterService(getEnv("QA_EXPORT_DIR", "./exports"))
	if err != nil {
		log.Fatalf("FATAL: Failed to set up export directory: %v", err)
	}

	extractor := services.NewExtractorService(os.Getenv("UNIDOC_LICENSE_KEY"))
	kb := services.NewKnowledgeBase(chunker, embedder, index)
	generator := services.NewGeneratorService(kb, backend, getEnvInt("QA_TOP_K", services.DefaultTopK))
	session := services.NewSessionService()

	qaController := controller.NewQAController(extractor, kb, generator, session, exporter)

	// Optional background sync: QA_DOCS_DIR keeps the knowledge base following
	// a documentation directory on disk instead of API uploads.
	if docsDir := os.Getenv("QA_DOCS_DIR"); docsDir != "" {
		watcher := services.NewWatcherService(kb, extractor, docsDir, os.Getenv("QA_HTML_FILE"))
		ctx := context.Background()
		if err := watcher.ScanAndRebuild(ctx); err != nil {
			log.Printf("INDEXER ERROR: Initial scan failed: %v", err)
		}
		go watcher.WatchDirectory(ctx)
	}

	// Setup Gin router
	router := gin.Default()

	// Add CORS middleware for testing
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Add health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": "QA Agent API",
			"version": "1.0.0",
		})
	})

	// API routes
	apiV1 := router.Group("/api/v1")
	{
		apiV1.POST("/knowledge-base", qaController.BuildKnowledgeBase)
		apiV1.GET("/knowledge-base", qaController.GetKnowledgeBaseStatus)
		apiV1.POST("/test-cases", qaController.GenerateTestCases)
		apiV1.GET("/test-cases", qaController.GetTestCases)
		apiV1.POST("/test-cases/select", qaController.SelectTestCase)
		apiV1.GET("/test-cases/download", qaController.DownloadTestCases)
		apiV1.POST("/scripts", qaController.GenerateScript)
		apiV1.GET("/scripts/:test_id/download", qaController.DownloadScript)
		apiV1.POST("/exports/test-cases", qaController.ExportTestCases)
		apiV1.POST("/exports/scripts", qaController.ExportScript)
	}

	// Start the Server
	port := getEnv("PORT", "8080")
	log.Printf("QA agent backend server starting on http://localhost:%s", port)
	log.Printf("Health check available at: http://localhost:%s/health", port)
	log.Printf("API endpoints:")
	log.Printf("  POST http://localhost:%s/api/v1/knowledge-base", port)
	log.Printf("  POST http://localhost:%s/api/v1/test-cases", port)
	log.Printf("  POST http://localhost:%s/api/v1/scripts", port)

	if err := router.Run(":" + port); err != nil {
		log.Fatalf("FATAL: Failed to start server: %v", err)
	}
}

// buildVectorIndex picks the index backend from QA_INDEX_BACKEND: "sqlite"
// (default, persists under QA_INDEX_DIR), "chroma" (CHROMA_URL), or "memory".
func buildVectorIndex() (services.VectorIndex, error) {
	switch backend := getEnv("QA_INDEX_BACKEND", "sqlite"); backend {
	case "chroma":
		return services.NewChromaVectorIndex(
			context.Background(),
			os.Getenv("CHROMA_URL"),
			getEnv("QA_COLLECTION", "qa-knowledge-base"),
		)
	case "memory":
		return services.NewMemoryVectorIndex(), nil
	case "sqlite":
		indexDir := getEnv("QA_INDEX_DIR", "./qa_index")
		return services.NewSQLiteVectorIndex(filepath.Join(indexDir, "index.db"))
	default:
		log.Printf("Unknown QA_INDEX_BACKEND %q, falling back to sqlite", backend)
		indexDir := getEnv("QA_INDEX_DIR", "./qa_index")
		return services.NewSQLiteVectorIndex(filepath.Join(indexDir, "index.db"))
	}
}

// buildEmbedder picks the embedding backend from QA_EMBEDDER: "openai"
// (default) or "ollama".
func buildEmbedder(client *http.Client) services.Embedder {
	switch backend := getEnv("QA_EMBEDDER", "openai"); backend {
	case "ollama":
		return services.NewOllamaEmbedder(
			client,
			getEnv("OLLAMA_URL", "http://localhost:11434"),
			getEnv("OLLAMA_EMBED_MODEL", "nomic-embed-text:v1.5"),
		)
	case "openai":
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			log.Fatalf("FATAL: OPENAI_API_KEY is not set. Make sure it is set, or switch QA_EMBEDDER to ollama.")
		}
		return services.NewOpenAIEmbedder(
			client,
			getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			apiKey,
			getEnv("OPENAI_EMBED_MODEL", "text-embedding-3-small"),
		)
	default:
		log.Fatalf("FATAL: Unknown QA_EMBEDDER %q (want openai or ollama)", backend)
		return nil
	}
}

// buildGenerativeBackend picks the completion backend from QA_LLM_BACKEND:
// "gemini" (default) or "openai".
func buildGenerativeBackend(client *http.Client) services.GenerativeBackend {
	switch backend := getEnv("QA_LLM_BACKEND", "gemini"); backend {
	case "openai":
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			log.Fatalf("FATAL: OPENAI_API_KEY is not set. Make sure it is set, or switch QA_LLM_BACKEND to gemini.")
		}
		return services.NewOpenAIChatBackend(
			client,
			getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			apiKey,
			getEnv("OPENAI_LLM_MODEL", "gpt-4o-mini"),
		)
	case "gemini":
		geminiClient, err := genai.NewClient(context.Background(), &genai.ClientConfig{
			APIKey:  os.Getenv("GEMINI_API_KEY"),
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			log.Fatalf("FATAL: Failed to create Gemini client: %v. Make sure GEMINI_API_KEY is set.", err)
		}
		log.Println("Successfully connected to Google Gemini.")
		return services.NewGeminiBackend(geminiClient, getEnv("GEMINI_MODEL", "gemini-2.5-flash"))
	default:
		log.Fatalf("FATAL: Unknown QA_LLM_BACKEND %q (want gemini or openai)", backend)
		return nil
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Invalid %s=%q, using default %d", key, value, fallback)
		return fallback
	}
	return parsed
}
