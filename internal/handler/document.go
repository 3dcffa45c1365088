package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/docscan/internal/analysis"
	"github.com/dukerupert/docscan/internal/auth"
	"github.com/dukerupert/docscan/internal/model"
	"github.com/dukerupert/docscan/internal/quota"
)

type DocumentHandler struct {
	service   *analysis.Service
	ledger    *quota.Ledger
	maxUpload int64
	logger    *slog.Logger
}

func NewDocumentHandler(svc *analysis.Service, ledger *quota.Ledger, maxUpload int64, logger *slog.Logger) *DocumentHandler {
	return &DocumentHandler{service: svc, ledger: ledger, maxUpload: maxUpload, logger: logger}
}

type analyzeResult struct {
	model.AnalysisResult
	UsageInfo model.Usage `json:"usage_info"`
}

type analyzeResponse struct {
	Success  bool          `json:"success"`
	Filename string        `json:"filename"`
	Result   analyzeResult `json:"result"`
}

type quotaResponse struct {
	Success         bool        `json:"success"`
	Error           string      `json:"error"`
	UpgradeRequired bool        `json:"upgrade_required"`
	Usage           model.Usage `json:"usage"`
}

func (h *DocumentHandler) Home(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message":      "DocScan API работает!",
		"status":       "active",
		"ai_available": h.service.AIAvailable(),
		"pdf_export":   false,
	})
}

func (h *DocumentHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	identity := auth.Identity(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file is too large")
			return
		}
		if !errors.Is(err, http.ErrNotMultipart) {
			writeError(w, http.StatusBadRequest, "invalid upload")
			return
		}
	}

	var doc analysis.Document
	file, header, err := r.FormFile("file")
	switch {
	case err == nil:
		defer file.Close()
		doc = analysis.Document{Filename: header.Filename, Content: file, Size: header.Size}
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		// Analyze reports the missing file after the quota check.
	default:
		writeError(w, http.StatusBadRequest, "invalid upload")
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	out, err := h.service.Analyze(r.Context(), identity, doc)
	if err != nil {
		h.writeAnalyzeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, analyzeResponse{
		Success:  true,
		Filename: out.Filename,
		Result:   analyzeResult{AnalysisResult: out.Result, UsageInfo: out.Usage},
	})
}

func (h *DocumentHandler) writeAnalyzeError(w http.ResponseWriter, r *http.Request, err error) {
	var exceeded *quota.QuotaExceededError
	var invalid *analysis.ValidationError
	switch {
	case errors.As(err, &exceeded):
		writeJSON(w, http.StatusPaymentRequired, quotaResponse{
			Error:           exceeded.Error(),
			UpgradeRequired: true,
			Usage:           exceeded.Usage,
		})
	case errors.As(err, &invalid):
		writeError(w, http.StatusBadRequest, invalid.Message)
	case r.Context().Err() != nil:
		h.logger.Info("analysis canceled", "identity", auth.Identity(r.Context()), "error", err)
	default:
		h.logger.Error("analyze document", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to process document")
	}
}

func (h *DocumentHandler) Usage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ledger.Usage(auth.Identity(r.Context())))
}

func (h *DocumentHandler) Tiers(w http.ResponseWriter, r *http.Request) {
	ts := h.ledger.TierSet()
	writeJSON(w, http.StatusOK, map[string]any{
		"version":      ts.Version(),
		"default_tier": ts.Default().Name,
		"tiers":        ts.All(),
	})
}
