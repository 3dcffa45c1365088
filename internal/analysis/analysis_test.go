package analysis

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/dukerupert/docscan/internal/classify"
	"github.com/dukerupert/docscan/internal/model"
	"github.com/dukerupert/docscan/internal/quota"
)

type memStore struct {
	mu       sync.Mutex
	accounts map[string]model.Account
}

func (m *memStore) Load(context.Context) (map[string]model.Account, error) {
	return map[string]model.Account{}, nil
}

func (m *memStore) Save(_ context.Context, accounts map[string]model.Account) error {
	m.mu.Lock()
	m.accounts = accounts
	m.mu.Unlock()
	return nil
}

// fakeCompleter implements Completer for testing.
type fakeCompleter struct {
	reply      string
	err        error
	configured bool

	calls  int
	prompt string
}

func (f *fakeCompleter) Complete(_ context.Context, _, prompt string) (string, error) {
	f.calls++
	f.prompt = prompt
	return f.reply, f.err
}

func (f *fakeCompleter) Configured() bool { return f.configured }

func newTestService(t *testing.T, llm Completer, opts Options) (*Service, *quota.Ledger) {
	t.Helper()
	tiers, err := quota.NewTierSet("test", []model.Tier{
		{Name: "free", Title: "Free", DailyLimit: 1},
		{Name: "premium", Title: "Premium", DailyLimit: 50, AIAccess: true},
	}, "free")
	if err != nil {
		t.Fatalf("tiers: %v", err)
	}
	ledger, err := quota.New(context.Background(), &memStore{}, tiers)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(ledger, llm, classify.New(classify.DefaultPolicy()), opts, logger), ledger
}

func txtDoc(content string) Document {
	return Document{Filename: "contract.txt", Content: strings.NewReader(content), Size: int64(len(content))}
}

func premium(t *testing.T, ledger *quota.Ledger, identity string) {
	t.Helper()
	ledger.Resolve(identity)
	if _, err := ledger.SetTier(identity, "premium"); err != nil {
		t.Fatalf("set tier: %v", err)
	}
}

func TestAnalyzeWithAI(t *testing.T) {
	llm := &fakeCompleter{
		configured: true,
		reply:      "РИСКИ:\n- A risk statement here\nРЕКОМЕНДАЦИИ:\n- A recommendation here",
	}
	svc, ledger := newTestService(t, llm, Options{})
	premium(t, ledger, "alice")

	out, err := svc.Analyze(context.Background(), "alice", txtDoc("Договор поставки товара на 30 дней"))
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if !out.Result.AIUsed {
		t.Error("expected AI result")
	}
	if len(out.Result.Risks) != 1 || out.Result.Risks[0] != "A risk statement here" {
		t.Errorf("risks = %q", out.Result.Risks)
	}
	if len(out.Result.Recommendations) != 1 || out.Result.Recommendations[0] != "A recommendation here" {
		t.Errorf("recommendations = %q", out.Result.Recommendations)
	}
	if !strings.HasPrefix(out.Result.Summary, "🤖 YandexGPT:") {
		t.Errorf("summary = %q", out.Result.Summary)
	}
	if out.Usage.UsedToday != 1 || out.Usage.TotalUsed != 1 {
		t.Errorf("usage = %+v, want one recorded", out.Usage)
	}
	if !strings.HasPrefix(llm.prompt, userPromptPrefix) {
		t.Errorf("prompt = %q", llm.prompt)
	}
}

func TestAnalyzePlaceholders(t *testing.T) {
	llm := &fakeCompleter{configured: true, reply: "Документ в порядке."}
	svc, ledger := newTestService(t, llm, Options{})
	premium(t, ledger, "alice")

	out, err := svc.Analyze(context.Background(), "alice", txtDoc("Договор поставки товара на 30 дней"))
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(out.Result.Risks) != 1 || out.Result.Risks[0] != noRisksPlaceholder {
		t.Errorf("risks = %q, want placeholder", out.Result.Risks)
	}
	if len(out.Result.Recommendations) != 1 || out.Result.Recommendations[0] != noRecommendationsPlaceholder {
		t.Errorf("recommendations = %q, want placeholder", out.Result.Recommendations)
	}
}

func TestAnalyzeTierWithoutAI(t *testing.T) {
	llm := &fakeCompleter{configured: true}
	svc, _ := newTestService(t, llm, Options{})

	out, err := svc.Analyze(context.Background(), "bob", txtDoc("Договор аренды помещения"))
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if llm.calls != 0 {
		t.Errorf("completer called %d times, want 0", llm.calls)
	}
	if out.Result.AIUsed {
		t.Error("expected local result")
	}
	if out.Result.Risks[0] != localRisk || out.Result.Recommendations[0] != localRecommendation {
		t.Errorf("result = %+v", out.Result)
	}
	if out.Result.Summary != "📊 Локальный анализ: 24 символов" {
		t.Errorf("summary = %q", out.Result.Summary)
	}
	if out.Usage.UsedToday != 1 {
		t.Errorf("used_today = %d, want 1", out.Usage.UsedToday)
	}
}

func TestAnalyzeQuotaExceeded(t *testing.T) {
	svc, _ := newTestService(t, &fakeCompleter{}, Options{})

	if _, err := svc.Analyze(context.Background(), "carol", txtDoc("Первый документ для анализа")); err != nil {
		t.Fatalf("first analyze: %v", err)
	}
	_, err := svc.Analyze(context.Background(), "carol", txtDoc("Второй документ для анализа"))

	var qe *quota.QuotaExceededError
	if !errors.As(err, &qe) {
		t.Fatalf("err = %v, want QuotaExceededError", err)
	}
	if qe.Usage.UsedToday != 1 || qe.Usage.DailyLimit != 1 || qe.Usage.Remaining != 0 {
		t.Errorf("usage = %+v", qe.Usage)
	}
}

func TestAnalyzeValidation(t *testing.T) {
	tests := []struct {
		name string
		doc  Document
	}{
		{"no content", Document{Filename: "a.txt"}},
		{"no filename", Document{Content: strings.NewReader("x"), Size: 1}},
		{"unsupported", Document{Filename: "a.exe", Content: strings.NewReader("MZ binary data"), Size: 14}},
		{"too short", txtDoc("коротко")},
		{"whitespace", txtDoc("   \n\n   ")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, ledger := newTestService(t, &fakeCompleter{}, Options{})

			_, err := svc.Analyze(context.Background(), "dave", tt.doc)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if u := ledger.Usage("dave"); u.UsedToday != 0 {
				t.Errorf("used_today = %d, want 0", u.UsedToday)
			}
			if !ledger.CanAdmit("dave") {
				t.Error("expected reservation to be released")
			}
		})
	}
}

func TestAnalyzeLLMFailureFallsBack(t *testing.T) {
	llm := &fakeCompleter{configured: true, err: errors.New("503 service unavailable")}
	svc, ledger := newTestService(t, llm, Options{})
	premium(t, ledger, "erin")

	out, err := svc.Analyze(context.Background(), "erin", txtDoc("Договор поставки товара на 30 дней"))
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if out.Result.AIUsed {
		t.Error("expected local result")
	}
	if len(out.Result.Warnings) != 1 {
		t.Errorf("warnings = %q, want one", out.Result.Warnings)
	}
	if out.Usage.UsedToday != 1 {
		t.Errorf("used_today = %d, want 1", out.Usage.UsedToday)
	}
}

func TestAnalyzeUnconfiguredLLM(t *testing.T) {
	llm := &fakeCompleter{configured: false}
	svc, ledger := newTestService(t, llm, Options{})
	premium(t, ledger, "frank")

	out, err := svc.Analyze(context.Background(), "frank", txtDoc("Договор поставки товара на 30 дней"))
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if llm.calls != 0 || out.Result.AIUsed {
		t.Error("expected local analysis without calling the completer")
	}
}

func TestAnalyzeTruncatesPrompt(t *testing.T) {
	llm := &fakeCompleter{configured: true, reply: "РИСКИ:\n- A risk statement here"}
	svc, ledger := newTestService(t, llm, Options{MaxPromptRunes: 20})
	premium(t, ledger, "gina")

	text := strings.Repeat("Пункт договора. ", 10)
	out, err := svc.Analyze(context.Background(), "gina", txtDoc(text))
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	body := strings.TrimPrefix(llm.prompt, userPromptPrefix)
	if n := utf8.RuneCountInString(body); n != 20 {
		t.Errorf("prompt body = %d runes, want 20", n)
	}
	if len(out.Result.Warnings) != 1 {
		t.Errorf("warnings = %q, want truncation warning", out.Result.Warnings)
	}
}

func TestAnalyzeCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	llm := &fakeCompleter{configured: true, err: context.Canceled}
	svc, ledger := newTestService(t, llm, Options{})
	premium(t, ledger, "hank")

	if _, err := svc.Analyze(ctx, "hank", txtDoc("Договор поставки товара на 30 дней")); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if u := ledger.Usage("hank"); u.UsedToday != 0 {
		t.Errorf("used_today = %d, want 0", u.UsedToday)
	}
}

func TestTruncateRunes(t *testing.T) {
	if got, cut := truncateRunes("абвгд", 3); got != "абв" || !cut {
		t.Errorf("truncateRunes = %q, %v", got, cut)
	}
	if got, cut := truncateRunes("абв", 3); got != "абв" || cut {
		t.Errorf("truncateRunes = %q, %v", got, cut)
	}
}
