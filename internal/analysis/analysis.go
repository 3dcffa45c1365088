// Package analysis runs one document through admission, text extraction,
// the completion API and classification, and accounts for it in the ledger.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dukerupert/docscan/internal/classify"
	"github.com/dukerupert/docscan/internal/extract"
	"github.com/dukerupert/docscan/internal/metrics"
	"github.com/dukerupert/docscan/internal/model"
	"github.com/dukerupert/docscan/internal/quota"
)

const (
	DefaultMaxPromptRunes = 8000
	DefaultMinTextRunes   = 10
)

// ValidationError reports a problem with the uploaded document.
type ValidationError struct {
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Completer is the text completion backend.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
	Configured() bool
}

// Document is one uploaded file.
type Document struct {
	Filename string
	Content  io.ReaderAt
	Size     int64
}

// Outcome is a completed analysis and the usage after it was recorded.
type Outcome struct {
	Filename string
	Result   model.AnalysisResult
	Usage    model.Usage
}

// Options tunes the service. Zero values use the defaults.
type Options struct {
	MaxPromptRunes int
	MinTextRunes   int
}

type Service struct {
	ledger     *quota.Ledger
	llm        Completer
	classifier *classify.Classifier
	opts       Options
	logger     *slog.Logger
}

func NewService(ledger *quota.Ledger, llm Completer, classifier *classify.Classifier, opts Options, logger *slog.Logger) *Service {
	if opts.MaxPromptRunes <= 0 {
		opts.MaxPromptRunes = DefaultMaxPromptRunes
	}
	if opts.MinTextRunes <= 0 {
		opts.MinTextRunes = DefaultMinTextRunes
	}
	return &Service{
		ledger:     ledger,
		llm:        llm,
		classifier: classifier,
		opts:       opts,
		logger:     logger.With("component", "analysis"),
	}
}

// AIAvailable reports whether the completion backend is configured.
func (s *Service) AIAvailable() bool {
	return s.llm != nil && s.llm.Configured()
}

// Analyze admits, analyzes and records one document for identity.
// A denied request returns *quota.QuotaExceededError and a bad document
// returns *ValidationError; neither is counted against the quota.
func (s *Service) Analyze(ctx context.Context, identity string, doc Document) (*Outcome, error) {
	start := time.Now()

	res, err := s.ledger.Reserve(identity)
	if err != nil {
		metrics.AnalysesTotal.WithLabelValues("quota_exceeded").Inc()
		return nil, err
	}
	defer res.Release()

	text, err := s.extract(doc)
	if err != nil {
		metrics.AnalysesTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	tier := s.tierOf(identity)
	var result model.AnalysisResult
	if tier.AIAccess && s.AIAvailable() {
		result, err = s.analyzeAI(ctx, text)
		if err != nil {
			metrics.AnalysesTotal.WithLabelValues("canceled").Inc()
			return nil, err
		}
	} else {
		result = localResult(text)
	}

	usage := res.Commit()

	source := "local"
	if result.AIUsed {
		source = "ai"
	}
	metrics.AnalysesTotal.WithLabelValues("ok").Inc()
	metrics.AnalysisDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
	s.logger.Info("document analyzed",
		"identity", identity,
		"filename", doc.Filename,
		"chars", utf8.RuneCountInString(text),
		"source", source,
		"used_today", usage.UsedToday,
		"daily_limit", usage.DailyLimit,
	)

	return &Outcome{Filename: doc.Filename, Result: result, Usage: usage}, nil
}

func (s *Service) extract(doc Document) (string, error) {
	if doc.Content == nil {
		return "", &ValidationError{Message: "no file uploaded"}
	}
	if doc.Filename == "" {
		return "", &ValidationError{Message: "no file selected"}
	}
	if !extract.IsSupported(doc.Filename) {
		return "", &ValidationError{
			Message: "unsupported file format, use PDF, DOCX or TXT",
			Err:     extract.ErrUnsupportedFormat,
		}
	}

	text, err := extract.Text(doc.Filename, doc.Content, doc.Size)
	if err != nil {
		s.logger.Warn("extract text", "filename", doc.Filename, "error", err)
		return "", &ValidationError{Message: "could not extract text from document", Err: err}
	}
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < s.opts.MinTextRunes {
		return "", &ValidationError{Message: "could not extract text from document"}
	}
	return text, nil
}

func (s *Service) tierOf(identity string) model.Tier {
	u := s.ledger.Usage(identity)
	if t, ok := s.ledger.TierSet().Get(u.Tier); ok {
		return t
	}
	return s.ledger.TierSet().Default()
}

// analyzeAI asks the completion backend for a review. Backend failures
// degrade to the local result; only a canceled request is returned as an
// error.
func (s *Service) analyzeAI(ctx context.Context, text string) (model.AnalysisResult, error) {
	chars := utf8.RuneCountInString(text)
	prompt, truncated := truncateRunes(text, s.opts.MaxPromptRunes)

	reply, err := s.llm.Complete(ctx, systemPrompt, userPromptPrefix+prompt)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return model.AnalysisResult{}, fmt.Errorf("analysis canceled: %w", ctxErr)
		}
		metrics.LLMRequests.WithLabelValues("error").Inc()
		s.logger.Error("completion failed, using local analysis", "error", err)
		result := localResult(text)
		result.Warnings = append(result.Warnings, "AI analysis is temporarily unavailable; a basic analysis was returned")
		return result, nil
	}
	metrics.LLMRequests.WithLabelValues("ok").Inc()

	cls := s.classifier.Classify(reply)
	result := model.AnalysisResult{
		Risks:           cls.Risks,
		Recommendations: cls.Recommendations,
		Warnings:        []string{},
		Summary:         aiSummary(chars),
		AIUsed:          true,
	}
	if len(result.Risks) == 0 {
		result.Risks = []string{noRisksPlaceholder}
	}
	if len(result.Recommendations) == 0 {
		result.Recommendations = []string{noRecommendationsPlaceholder}
	}
	if truncated {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("document is longer than %d characters; only the beginning was analyzed", s.opts.MaxPromptRunes))
	}
	return result, nil
}

func localResult(text string) model.AnalysisResult {
	return model.AnalysisResult{
		Risks:           []string{localRisk},
		Recommendations: []string{localRecommendation},
		Warnings:        []string{},
		Summary:         localSummary(utf8.RuneCountInString(text)),
	}
}

func truncateRunes(s string, n int) (string, bool) {
	if utf8.RuneCountInString(s) <= n {
		return s, false
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos], true
		}
		i++
	}
	return s, false
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
