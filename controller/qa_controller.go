package controller

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"qa-agent/models"
	"qa-agent/services"
)

// QAController handles the HTTP requests for the QA agent API. It depends on
// the service layer for the actual business logic and only translates between
// HTTP and service calls.
type QAController struct {
	extractor *services.ExtractorService
	kb        *services.KnowledgeBase
	generator *services.GeneratorService
	session   *services.SessionService
	exporter  *services.ExporterService
}

// NewQAController is a constructor function that creates a new QAController.
// This is called from main.go to inject the service dependencies.
func NewQAController(
	extractor *services.ExtractorService,
	kb *services.KnowledgeBase,
	generator *services.GeneratorService,
	session *services.SessionService,
	exporter *services.ExporterService,
) *QAController {
	return &QAController{
		extractor: extractor,
		kb:        kb,
		generator: generator,
		session:   session,
		exporter:  exporter,
	}
}

// statusForError maps the service error taxonomy onto HTTP statuses. Unknown
// errors fall through to 500.
func statusForError(err error) int {
	var unsupported *services.UnsupportedFormatError
	var generation *services.GenerationError
	var grounding *services.GroundingViolationError
	switch {
	case errors.Is(err, services.ErrNotInitialized), errors.Is(err, services.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, services.ErrEmptyCorpus):
		return http.StatusUnprocessableEntity
	case errors.As(err, &unsupported):
		return http.StatusBadRequest
	case errors.As(err, &generation), errors.As(err, &grounding):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(ctx *gin.Context, err error) {
	ctx.JSON(statusForError(err), gin.H{"error": err.Error()})
}

// BuildKnowledgeBase is the Gin handler for POST /api/v1/knowledge-base.
// It decodes the uploaded documents, hands the corpus to the knowledge base
// and returns the build report.
func (c *QAController) BuildKnowledgeBase(ctx *gin.Context) {
	var req models.BuildKnowledgeBaseRequest

	// Use Gin's binding to parse and validate the incoming JSON.
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	docs := make([]models.Document, 0, len(req.Documents)+1)
	for _, upload := range req.Documents {
		doc, err := c.extractor.ExtractUpload(upload)
		if err != nil {
			var unsupported *services.UnsupportedFormatError
			if errors.As(err, &unsupported) {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			} else {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("document %q: %v", upload.Filename, err)})
			}
			return
		}
		docs = append(docs, doc)
	}
	if strings.TrimSpace(req.HTMLContent) != "" {
		docs = append(docs, models.Document{
			Name:       services.DefaultHTMLSourceName,
			Text:       req.HTMLContent,
			SourceType: models.SourceHTML,
		})
	}

	// Delegate the core logic to the service layer. We extract the standard
	// context from Gin's context for portability.
	report, err := c.kb.Build(ctx.Request.Context(), docs)
	if err != nil {
		abortWithError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, models.BuildKnowledgeBaseResponse{
		Message: "Knowledge base built successfully",
		Report:  report,
	})
}

// GetKnowledgeBaseStatus is the Gin handler for GET /api/v1/knowledge-base.
func (c *QAController) GetKnowledgeBaseStatus(ctx *gin.Context) {
	report := c.kb.Report()
	ctx.JSON(http.StatusOK, models.KnowledgeBaseStatusResponse{
		State:         string(c.kb.State()),
		Ready:         c.kb.IsReady(),
		Report:        report,
		SourceNames:   c.kb.SourceNames(),
		IndexedChunks: report.ChunkCount,
	})
}

// GenerateTestCases is the Gin handler for POST /api/v1/test-cases. The
// generated batch replaces the session's previous one.
func (c *QAController) GenerateTestCases(ctx *gin.Context) {
	var req models.GenerateTestCasesRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.Objective) == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "objective must not be blank"})
		return
	}

	cases, err := c.generator.GenerateTestCases(ctx.Request.Context(), req.Objective)
	if err != nil {
		abortWithError(ctx, err)
		return
	}
	c.session.ReplaceTestCases(cases)

	ctx.JSON(http.StatusOK, models.TestCasesResponse{Count: len(cases), TestCases: cases})
}

// GetTestCases is the Gin handler for GET /api/v1/test-cases.
func (c *QAController) GetTestCases(ctx *gin.Context) {
	cases := c.session.TestCases()
	ctx.JSON(http.StatusOK, models.TestCasesResponse{Count: len(cases), TestCases: cases})
}

// SelectTestCase is the Gin handler for POST /api/v1/test-cases/select.
func (c *QAController) SelectTestCase(ctx *gin.Context) {
	var req models.SelectTestCaseRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.TestID) == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "test_id must not be blank"})
		return
	}

	tc, err := c.session.SelectTestCase(req.TestID)
	if err != nil {
		ctx.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"message":   fmt.Sprintf("Test case %s selected", tc.TestID),
		"test_case": tc,
	})
}

// DownloadTestCases is the Gin handler for GET /api/v1/test-cases/download.
// It serves the current batch as a JSON attachment.
func (c *QAController) DownloadTestCases(ctx *gin.Context) {
	cases := c.session.TestCases()
	if len(cases) == 0 {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "no test cases generated yet"})
		return
	}
	data, err := json.MarshalIndent(cases, "", "  ")
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to encode test cases"})
		return
	}
	ctx.Header("Content-Disposition", `attachment; filename="test_cases.json"`)
	ctx.Data(http.StatusOK, "application/json", data)
}

// GenerateScript is the Gin handler for POST /api/v1/scripts. Without an
// explicit test_id it falls back to the test case selected in the session.
func (c *QAController) GenerateScript(ctx *gin.Context) {
	var req models.GenerateScriptRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	tc, ok := c.resolveTestCase(req.TestID)
	if !ok {
		if req.TestID == "" {
			ctx.JSON(http.StatusNotFound, gin.H{"error": "no test case selected; pass test_id or select one first"})
		} else {
			ctx.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("test case %q is not part of the current batch", req.TestID)})
		}
		return
	}

	script, err := c.generator.GenerateScript(ctx.Request.Context(), tc)
	if err != nil {
		abortWithError(ctx, err)
		return
	}
	c.session.StoreScript(script)

	ctx.JSON(http.StatusOK, models.ScriptResponse{TestID: script.TestID, Script: script.Body})
}

// DownloadScript is the Gin handler for GET /api/v1/scripts/:test_id/download.
// It generates the script for the given test case and serves it as a Python
// attachment.
func (c *QAController) DownloadScript(ctx *gin.Context) {
	testID := ctx.Param("test_id")
	tc, ok := c.session.TestCaseByID(testID)
	if !ok {
		ctx.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("test case %q is not part of the current batch", testID)})
		return
	}

	script, err := c.generator.GenerateScript(ctx.Request.Context(), tc)
	if err != nil {
		abortWithError(ctx, err)
		return
	}
	c.session.StoreScript(script)

	ctx.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s_selenium_script.py"`, tc.TestID))
	ctx.Data(http.StatusOK, "text/x-python", []byte(script.Body))
}

// ExportTestCases is the Gin handler for POST /api/v1/exports/test-cases.
func (c *QAController) ExportTestCases(ctx *gin.Context) {
	cases := c.session.TestCases()
	if len(cases) == 0 {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "no test cases generated yet"})
		return
	}
	path, err := c.exporter.ExportTestCases(cases, "")
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, models.ExportResponse{Message: "Test cases exported", Path: path})
}

// ExportScript is the Gin handler for POST /api/v1/exports/scripts. With no
// body it exports the script generated for the given test case earlier in the
// session.
func (c *QAController) ExportScript(ctx *gin.Context) {
	var req models.ExportScriptRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.TestID) == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "test_id must not be blank"})
		return
	}

	script := models.GeneratedScript{TestID: req.TestID, Body: req.Body}
	if strings.TrimSpace(req.Body) == "" {
		stored, ok := c.session.Script(req.TestID)
		if !ok {
			ctx.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("no generated script for test case %q", req.TestID)})
			return
		}
		script = stored
	}

	path, err := c.exporter.ExportScript(script)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, models.ExportResponse{Message: "Script exported", Path: path})
}

// resolveTestCase picks the explicit test case when an id is given, otherwise
// the session selection.
func (c *QAController) resolveTestCase(testID string) (models.TestCase, bool) {
	if testID != "" {
		return c.session.TestCaseByID(testID)
	}
	return c.session.SelectedTestCase()
}
