// Package api exposes the assistant over HTTP with gin.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"ragdesk/backend/go/internal/rag_service/rag/pipeline"
	"ragdesk/backend/go/internal/rag_service/rag/schema"
	"ragdesk/backend/go/internal/rag_service/service"
	"ragdesk/backend/go/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Service is what the handlers need from the application context.
type Service interface {
	Ingest(ctx context.Context, req service.IngestRequest) (*pipeline.IngestReport, error)
	Answer(ctx context.Context, question string, k int) (*schema.Answer, error)
	Status(ctx context.Context) (service.Status, error)
}

// IngestRequest is the JSON body of POST /ingest.
type IngestRequest struct {
	Sources []string `json:"sources"`
	Reset   bool     `json:"reset"`
	OnError string   `json:"on_error"`
}

// IngestResponse reports a finished ingestion.
type IngestResponse struct {
	Records   int                      `json:"records"`
	Documents int                      `json:"documents"`
	Pages     int                      `json:"pages"`
	Chunks    int                      `json:"chunks"`
	Skipped   []pipeline.SourceFailure `json:"skipped"`
}

// QueryRequest is the JSON body of POST /query.
type QueryRequest struct {
	Question string `json:"question"`
	K        *int   `json:"k,omitempty"`
}

// Citation locates one supporting passage.
type Citation struct {
	Source string  `json:"source"`
	Page   string  `json:"page,omitempty"`
	Score  float32 `json:"score"`
}

// QueryResponse answers POST /query. On ModelUnavailable Error is set and
// Sources still lists the retrieved passages.
type QueryResponse struct {
	Answer    string     `json:"answer"`
	Sources   []string   `json:"sources"`
	Citations []Citation `json:"citations,omitempty"`
	Error     string     `json:"error,omitempty"`
	Kind      string     `json:"kind,omitempty"`
}

// ChatRequest is the body of POST /api/query and /api/chat.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse answers /api/query and /api/chat.
type ChatResponse struct {
	Response string   `json:"response"`
	Sources  []string `json:"sources"`
	Error    string   `json:"error,omitempty"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// Handler serves the assistant's HTTP endpoints.
type Handler struct {
	svc         Service
	log         *logger.Logger
	uploadLimit int64
}

// NewHandler creates a Handler. uploadLimitMB bounds multipart ingestion bodies.
func NewHandler(svc Service, log *logger.Logger, uploadLimitMB int) *Handler {
	if uploadLimitMB <= 0 {
		uploadLimitMB = 32
	}
	return &Handler{svc: svc, log: log, uploadLimit: int64(uploadLimitMB) << 20}
}

// RouterOptions configure NewRouter.
type RouterOptions struct {
	// Metrics is served on GET /metrics when set.
	Metrics http.Handler
	// StaticDir holds index.html and a static/ directory for the chat page.
	StaticDir string
}

// NewRouter registers every route on a new gin engine.
func NewRouter(h *Handler, opts RouterOptions) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/ingest", h.Ingest)
	r.POST("/query", h.Query)
	r.POST("/api/query", h.Chat)
	r.POST("/api/chat", h.Chat)
	r.GET("/healthz", h.Health)

	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics))
	}
	if opts.StaticDir != "" {
		r.Static("/static", filepath.Join(opts.StaticDir, "static"))
		r.StaticFile("/", filepath.Join(opts.StaticDir, "index.html"))
	}
	return r
}

// StatusCode maps an error onto its HTTP status.
func StatusCode(err error) int {
	switch schema.Kind(err) {
	case "EmptyInput", "InvalidInput":
		return http.StatusBadRequest
	case "LoadError":
		return http.StatusUnprocessableEntity
	case "RetrievalUnavailable":
		return http.StatusServiceUnavailable
	case "ModelUnavailable":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	code := StatusCode(err)
	entry := h.log.WithError(err).WithFields(map[string]interface{}{"path": c.FullPath(), "status": code})
	if code >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Warn("request rejected")
	}
	c.JSON(code, ErrorResponse{Error: publicMessage(err), Kind: schema.Kind(err)})
}

// publicMessage turns the not-ready condition into a user-facing sentence.
func publicMessage(err error) string {
	if errors.Is(err, schema.ErrRetrievalUnavailable) {
		return "the assistant is not ready: " + err.Error()
	}
	return err.Error()
}

// Ingest handles POST /ingest with either a JSON body naming sources relative
// to the data directory or a multipart form carrying one or more "file" uploads.
func (h *Handler) Ingest(c *gin.Context) {
	var (
		req     service.IngestRequest
		uploads map[string]string // temp path -> original name
	)

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.uploadLimit)
		dir, err := os.MkdirTemp("", "ragdesk-upload-*")
		if err != nil {
			h.fail(c, err)
			return
		}
		defer os.RemoveAll(dir)

		req, uploads, err = h.saveUploads(c, dir)
		if err != nil {
			h.fail(c, err)
			return
		}
	} else {
		var body IngestRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			h.fail(c, fmt.Errorf("%w: %w", schema.ErrInvalidInput, err))
			return
		}
		// clients name documents under the data directory, never arbitrary paths
		req = service.IngestRequest{Sources: body.Sources, Reset: body.Reset, OnError: pipeline.OnError(body.OnError), Confined: true}
	}

	report, err := h.svc.Ingest(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}

	skipped := make([]pipeline.SourceFailure, 0, len(report.Skipped))
	for _, s := range report.Skipped {
		if name, ok := uploads[s.Source]; ok {
			s.Error = strings.ReplaceAll(s.Error, s.Source, name)
			s.Source = name
		}
		skipped = append(skipped, s)
	}
	c.JSON(http.StatusOK, IngestResponse{
		Records:   report.Records,
		Documents: len(report.Sources),
		Pages:     report.Pages,
		Chunks:    report.Chunks,
		Skipped:   skipped,
	})
}

func (h *Handler) saveUploads(c *gin.Context, dir string) (service.IngestRequest, map[string]string, error) {
	var req service.IngestRequest
	form, err := c.MultipartForm()
	if err != nil {
		return req, nil, fmt.Errorf("%w: reading upload: %w", schema.ErrInvalidInput, err)
	}
	files := form.File["file"]
	if len(files) == 0 {
		return req, nil, fmt.Errorf("%w: no file uploaded", schema.ErrEmptyInput)
	}

	uploads := make(map[string]string, len(files))
	for i, fh := range files {
		name := filepath.Base(fh.Filename)
		if name == "." || name == string(filepath.Separator) {
			name = "upload-" + strconv.Itoa(i)
		}
		// keep the original base name so it becomes the document's source id
		sub := filepath.Join(dir, strconv.Itoa(i))
		if err := os.Mkdir(sub, 0o700); err != nil {
			return req, nil, err
		}
		path := filepath.Join(sub, name)
		if err := c.SaveUploadedFile(fh, path); err != nil {
			return req, nil, fmt.Errorf("%w: saving %s: %w", schema.ErrLoad, name, err)
		}
		uploads[path] = name
		req.Sources = append(req.Sources, path)
	}

	if v := c.PostForm("reset"); v != "" {
		reset, err := strconv.ParseBool(v)
		if err != nil {
			return req, nil, fmt.Errorf("%w: reset must be a boolean, got %q", schema.ErrInvalidInput, v)
		}
		req.Reset = reset
	}
	req.OnError = pipeline.OnError(c.PostForm("on_error"))
	return req, uploads, nil
}

// Query handles POST /query.
func (h *Handler) Query(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, fmt.Errorf("%w: %w", schema.ErrInvalidInput, err))
		return
	}
	k := 0
	if req.K != nil {
		k = *req.K
		if k == 0 {
			h.fail(c, fmt.Errorf("%w: k must be at least 1", schema.ErrInvalidInput))
			return
		}
	}

	answer, err := h.svc.Answer(c.Request.Context(), req.Question, k)
	if err != nil && answer == nil {
		h.fail(c, err)
		return
	}

	resp := QueryResponse{
		Answer:    answer.Text,
		Sources:   answer.SourceTexts(),
		Citations: citations(answer),
	}
	code := http.StatusOK
	if err != nil {
		code = StatusCode(err)
		resp.Error = err.Error()
		resp.Kind = schema.Kind(err)
		h.log.WithError(err).WithField("sources", len(resp.Sources)).Error("answer generation failed")
	}
	c.JSON(code, resp)
}

// Chat handles the {message} → {response, sources} shape used by the chat page.
func (h *Handler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, fmt.Errorf("%w: %w", schema.ErrInvalidInput, err))
		return
	}

	answer, err := h.svc.Answer(c.Request.Context(), req.Message, 0)
	if err != nil {
		code := StatusCode(err)
		h.log.WithError(err).WithField("status", code).Warn("chat request failed")
		c.JSON(code, ChatResponse{Sources: answer.SourceTexts(), Error: publicMessage(err)})
		return
	}
	c.JSON(http.StatusOK, ChatResponse{Response: answer.Text, Sources: answer.SourceTexts()})
}

// Health handles GET /healthz. An empty index is healthy but not ready.
func (h *Handler) Health(c *gin.Context) {
	st, err := h.svc.Status(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func citations(a *schema.Answer) []Citation {
	out := make([]Citation, 0, len(a.Sources))
	for _, s := range a.Sources {
		cit := Citation{Source: s.Document.Source(), Score: s.Score}
		if p, ok := s.Document.Metadata[schema.MetadataKeyPageLabel]; ok {
			cit.Page = fmt.Sprint(p)
		}
		out = append(out, cit)
	}
	return out
}
