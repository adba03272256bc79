package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/example/okra-classifier/internal/imageprocessor"
	"github.com/example/okra-classifier/internal/repository"
	"github.com/example/okra-classifier/internal/scorer"
	"github.com/example/okra-classifier/internal/usecase"
)

// DefaultMaxUploadSize caps the request body of upload routes.
const DefaultMaxUploadSize = 16 << 20

const analysisMode = "simulation"

var allowedMIMETypes = []string{"image/png", "image/jpeg", "image/gif"}

// Classifier is the use case surface the routes depend on.
type Classifier interface {
	Classify(ctx context.Context, filename string, data []byte) (*usecase.Classification, error)
	ClassifyBatch(ctx context.Context, files []usecase.BatchFile) ([]usecase.BatchItem, error)
	GetResult(ctx context.Context, requestID string) (*repository.ClassificationRecord, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
	MaxBatchFiles() int
}

// Options configure RegisterRoutes. A zero MaxUploadBytes selects
// DefaultMaxUploadSize.
type Options struct {
	MaxUploadBytes int64
	// FallbackEnabled passes uploads whose content does not sniff as an
	// image on to the classifier, which answers them with a flagged
	// fallback instead of a 415.
	FallbackEnabled bool
}

type handler struct {
	svc       Classifier
	maxUpload int64
	fallback  bool
}

// RegisterRoutes wires the HTTP handlers to the Gin router. Classification
// is public; read-back and metrics sit behind authMiddleware.
func RegisterRoutes(router *gin.Engine, svc Classifier, authMiddleware gin.HandlerFunc, opts Options) {
	h := &handler{svc: svc, maxUpload: opts.MaxUploadBytes, fallback: opts.FallbackEnabled}
	if h.maxUpload <= 0 {
		h.maxUpload = DefaultMaxUploadSize
	}

	router.GET("/health", h.health)

	uploads := router.Group("/", limitBody(h.maxUpload))
	uploads.POST("/classify", h.classify)
	uploads.POST("/batch-classify", h.batchClassify)

	protected := router.Group("/", authMiddleware)
	protected.GET("/results/:id", h.result)
	protected.GET("/metrics", h.metrics)
}

func (h *handler) health(c *gin.Context) {
	names := make([]string, len(scorer.Labels))
	for i, l := range scorer.Labels {
		names[i] = string(l)
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       "healthy",
		"model_loaded": true,
		"class_names":  names,
		"mode":         analysisMode,
		"message":      "Okra Classification API running in simulation mode",
	})
}

func (h *handler) classify(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		if isBodyTooLarge(err) {
			tooLarge(c, h.maxUpload)
			return
		}
		msg := "No file uploaded"
		if submittedEmpty(c, "file") {
			msg = "No file selected"
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	filename := SecureFilename(fh.Filename)
	if !allowedExtension(fh.Filename) {
		c.JSON(http.StatusBadRequest, gin.H{"error": invalidTypeMessage})
		return
	}

	data, err := readUpload(fh)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read upload"})
		return
	}
	if detected, ok := sniffContent(data); !ok && !h.fallback {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported content type " + detected})
		return
	}

	out, err := h.svc.Classify(c.Request.Context(), filename, data)
	if err != nil {
		if imageprocessor.IsDecodeError(err) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid image", "detail": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Classification error"})
		return
	}

	res := out.Result
	body := gin.H{
		"request_id":           out.RequestID,
		"filename":             filename,
		"prediction":           res.Label,
		"confidence":           res.Confidence,
		"all_predictions":      res.Probabilities(),
		"formatted_prediction": res.Label.Formatted(),
		"analysis_mode":        analysisMode,
		"fallback":             res.Fallback,
		"note":                 "Heuristic color analysis; no trained model is used",
	}
	if res.Analysis != nil {
		body["analysis"] = res.Analysis
	}
	c.JSON(http.StatusOK, body)
}

func (h *handler) batchClassify(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		if isBodyTooLarge(err) {
			tooLarge(c, h.maxUpload)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "No files uploaded"})
		return
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		msg := "No files uploaded"
		if submittedEmpty(c, "files") {
			msg = "No files selected"
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}
	if limit := h.svc.MaxBatchFiles(); len(headers) > limit {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Too many files. Maximum %d files allowed.", limit)})
		return
	}

	results := make([]gin.H, len(headers))
	var (
		files []usecase.BatchFile
		slots []int
	)
	for i, fh := range headers {
		filename := SecureFilename(fh.Filename)
		if !allowedExtension(fh.Filename) {
			results[i] = gin.H{"filename": filename, "error": invalidTypeMessage}
			continue
		}
		data, err := readUpload(fh)
		if err != nil {
			results[i] = gin.H{"filename": filename, "error": "failed to read upload"}
			continue
		}
		if detected, ok := sniffContent(data); !ok && !h.fallback {
			results[i] = gin.H{"filename": filename, "error": "unsupported content type " + detected}
			continue
		}
		files = append(files, usecase.BatchFile{Filename: filename, Data: data})
		slots = append(slots, i)
	}

	if len(files) > 0 {
		items, err := h.svc.ClassifyBatch(c.Request.Context(), files)
		if err != nil && len(items) == 0 {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Batch classification failed"})
			return
		}
		for j, item := range items {
			results[slots[j]] = batchEntry(item)
		}
		for j := len(items); j < len(slots); j++ {
			results[slots[j]] = gin.H{"filename": files[j].Filename, "error": "Classification failed: request cancelled"}
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"results": results,
		"note":    "Batch classification using simulation mode",
	})
}

func batchEntry(item usecase.BatchItem) gin.H {
	if item.Err != nil {
		msg := "Classification failed"
		if imageprocessor.IsDecodeError(item.Err) {
			msg += ": invalid image"
		}
		return gin.H{"filename": item.Filename, "error": msg}
	}
	res := item.Classification.Result
	return gin.H{
		"filename":             item.Filename,
		"request_id":           item.Classification.RequestID,
		"prediction":           res.Label,
		"confidence":           res.Confidence,
		"formatted_prediction": res.Label.Formatted(),
		"analysis_mode":        analysisMode,
		"fallback":             res.Fallback,
	}
}

func (h *handler) result(c *gin.Context) {
	requestID := c.Param("id")
	if _, err := uuid.Parse(requestID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a UUID"})
		return
	}

	rec, err := h.svc.GetResult(c.Request.Context(), requestID)
	switch {
	case errors.Is(err, usecase.ErrStillProcessing):
		c.JSON(http.StatusAccepted, gin.H{"request_id": requestID, "status": "processing"})
		return
	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load result"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"request_id": rec.RequestID,
		"filename":   rec.Filename,
		"prediction": rec.Prediction,
		"confidence": rec.Confidence,
		"all_predictions": gin.H{
			string(scorer.LabelMature):     rec.MatureProb,
			string(scorer.LabelOverMature): rec.OverMatureProb,
		},
		"fallback":    rec.Fallback,
		"green_ratio": rec.GreenRatio,
		"width":       rec.Width,
		"height":      rec.Height,
		"sha1_hash":   rec.SHA1Hash,
		"latency_ms":  rec.LatencyMs,
		"created_at":  rec.CreatedAt,
	})
}

func (h *handler) metrics(c *gin.Context) {
	summary, err := h.svc.GetMetricsSummary(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load metrics"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	src, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return io.ReadAll(src)
}

// submittedEmpty reports whether the multipart form carried field without
// a file. mime/multipart files a part with an empty filename under Value,
// which is what a browser sends when no file was chosen.
func submittedEmpty(c *gin.Context, field string) bool {
	form := c.Request.MultipartForm
	if form == nil {
		return false
	}
	_, ok := form.Value[field]
	return ok
}

// sniffContent reports the detected MIME type of data and whether it is
// one of the decodable image formats.
func sniffContent(data []byte) (string, bool) {
	detected := mimetype.Detect(data).String()
	return detected, mimetype.EqualsAny(detected, allowedMIMETypes...)
}
