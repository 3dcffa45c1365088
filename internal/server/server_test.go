package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	ws "github.com/coder/websocket"
	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/docscan/internal/analysis"
	"github.com/dukerupert/docscan/internal/classify"
	"github.com/dukerupert/docscan/internal/config"
	"github.com/dukerupert/docscan/internal/database"
	"github.com/dukerupert/docscan/internal/model"
	"github.com/dukerupert/docscan/internal/quota"
	"github.com/dukerupert/docscan/internal/snapshot"
	"github.com/dukerupert/docscan/internal/store"
	websocket "github.com/dukerupert/docscan/internal/websocket"
)

const contractText = "Договор аренды квартиры сроком на один год."

type offlineLLM struct{}

func (offlineLLM) Complete(context.Context, string, string) (string, error) { return "", nil }

func (offlineLLM) Configured() bool { return false }

type testEnv struct {
	server *httptest.Server
	ledger *quota.Ledger
	hub    *websocket.Hub
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	cfg := &config.Config{
		Server:    config.ServerConfig{MaxUploadBytes: 1 << 20},
		Admin:     config.AdminConfig{Username: "admin", PasswordHash: string(hash), SessionTTL: time.Hour},
		RateLimit: config.RateLimitConfig{AnalyzeRequests: 100, AnalyzeWindow: time.Minute, LoginRequests: 3, LoginWindow: time.Minute},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := websocket.NewHub(logger)

	tiers, err := quota.NewTierSet("test", []model.Tier{
		{Name: "free", Title: "Бесплатный", DailyLimit: 1, AIAccess: true},
		{Name: "premium", Title: "Премиум", DailyLimit: 50, Price: 490, AIAccess: true},
	}, "free")
	if err != nil {
		t.Fatalf("tiers: %v", err)
	}
	accounts := store.NewFileAccountStore(filepath.Join(t.TempDir(), "users.json"))
	ledger, err := quota.New(context.Background(), accounts, tiers, quota.WithLogger(logger), quota.WithNotifier(hub.Notify))
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}

	svc := analysis.NewService(ledger, offlineLLM{}, classify.New(classify.DefaultPolicy()), analysis.Options{}, logger)
	srv := New(cfg, Deps{
		DB:        db,
		Ledger:    ledger,
		Analysis:  svc,
		Snapshots: snapshot.NewManager(snapshot.Config{}, ledger, logger),
		Hub:       hub,
	}, logger)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testEnv{server: ts, ledger: ledger, hub: hub}
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) upload(t *testing.T, identity, filename, content string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	fw.Write([]byte(content))
	mw.Close()

	return e.do(t, http.MethodPost, "/analyze", &buf, http.Header{
		"Content-Type": {mw.FormDataContentType()},
		"X-User-Id":    {identity},
	})
}

func (e *testEnv) login(t *testing.T) *http.Cookie {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/admin/login", strings.NewReader(`{"username":"admin","password":"s3cret"}`), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d, want 200", resp.StatusCode)
	}
	for _, c := range resp.Cookies() {
		if c.Name == "docscan_admin" {
			return c
		}
	}
	t.Fatal("no admin cookie set")
	return nil
}

func adminHeader(c *http.Cookie) http.Header {
	return http.Header{"Cookie": {c.Name + "=" + c.Value}, "Content-Type": {"application/json"}}
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestHome(t *testing.T) {
	env := setupTestServer(t)

	resp := env.do(t, http.MethodGet, "/", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]any
	decode(t, resp, &body)
	if body["message"] != "DocScan API работает!" || body["status"] != "active" {
		t.Errorf("body = %v", body)
	}
	if body["ai_available"] != false || body["pdf_export"] != false {
		t.Errorf("flags = %v", body)
	}
}

func TestHealth(t *testing.T) {
	env := setupTestServer(t)

	resp := env.do(t, http.MethodGet, "/health", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body map[string]any
	decode(t, resp, &body)
	if body["status"] != "ok" || body["tiers_version"] != "test" {
		t.Errorf("body = %v", body)
	}
}

func TestAnalyzeRecordsUsage(t *testing.T) {
	env := setupTestServer(t)

	resp := env.upload(t, "alice", "contract.txt", contractText)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Success  bool   `json:"success"`
		Filename string `json:"filename"`
		Result   struct {
			Risks     []string    `json:"risks"`
			Summary   string      `json:"summary"`
			AIUsed    bool        `json:"ai_used"`
			UsageInfo model.Usage `json:"usage_info"`
		} `json:"result"`
	}
	decode(t, resp, &body)

	if !body.Success || body.Filename != "contract.txt" {
		t.Errorf("body = %+v", body)
	}
	if body.Result.AIUsed || len(body.Result.Risks) == 0 || body.Result.Summary == "" {
		t.Errorf("result = %+v", body.Result)
	}
	if u := body.Result.UsageInfo; u.UsedToday != 1 || u.DailyLimit != 1 || u.Remaining != 0 {
		t.Errorf("usage_info = %+v", u)
	}
}

func TestAnalyzeQuotaExceeded(t *testing.T) {
	env := setupTestServer(t)

	if resp := env.upload(t, "bob", "contract.txt", contractText); resp.StatusCode != http.StatusOK {
		t.Fatalf("first upload status = %d", resp.StatusCode)
	}

	resp := env.upload(t, "bob", "contract.txt", contractText)
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", resp.StatusCode)
	}
	var body struct {
		Success         bool        `json:"success"`
		Error           string      `json:"error"`
		UpgradeRequired bool        `json:"upgrade_required"`
		Usage           model.Usage `json:"usage"`
	}
	decode(t, resp, &body)
	if body.Success || !body.UpgradeRequired || body.Error == "" {
		t.Errorf("body = %+v", body)
	}
	if body.Usage.UsedToday != 1 || body.Usage.TotalUsed != 1 {
		t.Errorf("usage = %+v", body.Usage)
	}
}

func TestAnalyzeRejectsBadDocuments(t *testing.T) {
	env := setupTestServer(t)

	tests := []struct {
		name     string
		filename string
		content  string
	}{
		{"unsupported format", "contract.rtf", contractText},
		{"too little text", "contract.txt", "  коротко "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.upload(t, "carol", tt.filename, tt.content)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
			var body map[string]any
			decode(t, resp, &body)
			if body["success"] != false || body["error"] == "" {
				t.Errorf("body = %v", body)
			}
		})
	}

	if u := env.ledger.Usage("carol"); u.UsedToday != 0 {
		t.Errorf("used_today = %d, rejected documents must not count", u.UsedToday)
	}
}

func TestAnalyzeMissingFile(t *testing.T) {
	env := setupTestServer(t)

	resp := env.do(t, http.MethodPost, "/analyze", nil, http.Header{"X-User-Id": {"dave"}})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestUsageAssignsIdentityCookie(t *testing.T) {
	env := setupTestServer(t)

	resp := env.do(t, http.MethodGet, "/usage", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var found bool
	for _, c := range resp.Cookies() {
		if c.Name == "docscan_uid" && c.Value != "" {
			found = true
		}
	}
	if !found {
		t.Error("expected identity cookie")
	}

	var usage model.Usage
	decode(t, resp, &usage)
	if usage.Tier != "free" || usage.TierTitle != "Бесплатный" || usage.Remaining != 1 {
		t.Errorf("usage = %+v", usage)
	}
}

func TestTiers(t *testing.T) {
	env := setupTestServer(t)

	for _, path := range []string{"/tiers", "/plans"} {
		resp := env.do(t, http.MethodGet, path, nil, nil)
		var body struct {
			Version     string       `json:"version"`
			DefaultTier string       `json:"default_tier"`
			Tiers       []model.Tier `json:"tiers"`
		}
		decode(t, resp, &body)
		if body.Version != "test" || body.DefaultTier != "free" || len(body.Tiers) != 2 {
			t.Errorf("%s body = %+v", path, body)
		}
	}
}

func TestAdminRequiresSession(t *testing.T) {
	env := setupTestServer(t)

	for _, path := range []string{"/admin/accounts", "/admin/snapshots", "/admin/events"} {
		resp := env.do(t, http.MethodGet, path, nil, nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s status = %d, want 401", path, resp.StatusCode)
		}
	}
}

func TestAdminLoginRejectsBadPassword(t *testing.T) {
	env := setupTestServer(t)

	resp := env.do(t, http.MethodPost, "/admin/login", strings.NewReader(`{"username":"admin","password":"nope"}`), nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if len(resp.Cookies()) != 0 {
		t.Error("no cookie expected on failed login")
	}
}

func TestAdminLoginRateLimited(t *testing.T) {
	env := setupTestServer(t)

	var last int
	for i := 0; i < 4; i++ {
		resp := env.do(t, http.MethodPost, "/admin/login", strings.NewReader(`{"username":"admin","password":"nope"}`), nil)
		last = resp.StatusCode
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("fourth attempt status = %d, want 429", last)
	}
}

func TestAdminAccountLifecycle(t *testing.T) {
	env := setupTestServer(t)
	h := adminHeader(env.login(t))

	resp := env.do(t, http.MethodPost, "/admin/accounts", strings.NewReader(`{"identity":"erin"}`), h)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPost, "/admin/accounts", strings.NewReader(`{"identity":"erin"}`), h)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate create status = %d, want 409", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPut, "/admin/accounts/erin/tier", strings.NewReader(`{"tier":"gold"}`), h)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid tier status = %d, want 400", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPut, "/admin/accounts/nobody/tier", strings.NewReader(`{"tier":"premium"}`), h)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown user status = %d, want 404", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPut, "/admin/accounts/erin/tier", strings.NewReader(`{"tier":"premium"}`), h)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set tier status = %d, want 200", resp.StatusCode)
	}
	var acct struct {
		Identity string      `json:"identity"`
		Tier     string      `json:"tier"`
		Usage    model.Usage `json:"usage"`
	}
	decode(t, resp, &acct)
	if acct.Tier != "premium" || acct.Usage.DailyLimit != 50 {
		t.Errorf("account = %+v", acct)
	}

	resp = env.do(t, http.MethodGet, "/admin/accounts", nil, h)
	var list []map[string]any
	decode(t, resp, &list)
	if len(list) != 1 || list[0]["identity"] != "erin" {
		t.Errorf("accounts = %v", list)
	}

	resp = env.do(t, http.MethodDelete, "/admin/accounts/erin", nil, h)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", resp.StatusCode)
	}
	resp = env.do(t, http.MethodGet, "/admin/accounts/erin", nil, h)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get deleted status = %d, want 404", resp.StatusCode)
	}
}

func TestAdminResetUsage(t *testing.T) {
	env := setupTestServer(t)
	h := adminHeader(env.login(t))

	env.upload(t, "frank", "contract.txt", contractText)
	if resp := env.upload(t, "frank", "contract.txt", contractText); resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", resp.StatusCode)
	}

	resp := env.do(t, http.MethodPost, "/admin/accounts/frank/reset", nil, h)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reset status = %d, want 200", resp.StatusCode)
	}
	if resp := env.upload(t, "frank", "contract.txt", contractText); resp.StatusCode != http.StatusOK {
		t.Errorf("upload after reset status = %d, want 200", resp.StatusCode)
	}

	resp = env.do(t, http.MethodPost, "/admin/usage/reset", nil, h)
	var body map[string]any
	decode(t, resp, &body)
	if body["accounts"] != float64(1) {
		t.Errorf("body = %v", body)
	}
	if u := env.ledger.Usage("frank"); u.UsedToday != 0 || u.TotalUsed != 2 {
		t.Errorf("usage = %+v", u)
	}
}

func TestAdminLogout(t *testing.T) {
	env := setupTestServer(t)
	h := adminHeader(env.login(t))

	if resp := env.do(t, http.MethodPost, "/admin/logout", nil, h); resp.StatusCode != http.StatusOK {
		t.Fatalf("logout status = %d, want 200", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodGet, "/admin/accounts", nil, h); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status after logout = %d, want 401", resp.StatusCode)
	}
}

func TestSnapshotsDisabled(t *testing.T) {
	env := setupTestServer(t)
	h := adminHeader(env.login(t))

	resp := env.do(t, http.MethodGet, "/admin/snapshots", nil, h)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Status    snapshot.Status `json:"status"`
		Snapshots []snapshot.Info `json:"snapshots"`
	}
	decode(t, resp, &body)
	if body.Status.State != snapshot.StateDisabled || body.Snapshots == nil {
		t.Errorf("body = %+v", body)
	}

	resp = env.do(t, http.MethodPost, "/admin/snapshots", nil, h)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("run status = %d, want 503", resp.StatusCode)
	}
}

func TestAdminEventFeed(t *testing.T) {
	env := setupTestServer(t)
	cookie := env.login(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/admin/events"
	conn, _, err := ws.Dial(ctx, url, &ws.DialOptions{
		HTTPHeader: http.Header{"Cookie": {cookie.Name + "=" + cookie.Value}},
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	for env.hub.ClientCount() == 0 {
		if ctx.Err() != nil {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, err := env.ledger.CreateAccount("grace"); err != nil {
		t.Fatalf("create account: %v", err)
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg websocket.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != "account_created" || msg.Account == nil || msg.Account.Identity != "grace" {
		t.Errorf("message = %+v", msg)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupTestServer(t)
	env.do(t, http.MethodGet, "/health", nil, nil)

	resp := env.do(t, http.MethodGet, "/metrics", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	data, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(data), "docscan_http_requests_total") {
		t.Error("expected docscan_http_requests_total in exposition")
	}
}
