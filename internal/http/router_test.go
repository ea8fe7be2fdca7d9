package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pagesentry/internal/cache"
	"pagesentry/internal/config"
	"pagesentry/internal/extract"
	"pagesentry/internal/inspector"
	"pagesentry/internal/llm"
	"pagesentry/internal/schema"
	"pagesentry/internal/scraper"
	"pagesentry/internal/services"
	"pagesentry/internal/store"
)

type staticAI struct{ reply string }

func (a staticAI) GenerateWithFallback(context.Context, llm.Request) (*llm.Result, error) {
	return &llm.Result{Content: a.reply, ProviderName: "static"}, nil
}

const productsReply = `{"selectors":[{"field":"container","selector":"li.product"},{"field":"title","selector":"a"},{"field":"price","selector":"span.price"}]}`

func productPage(n int) string {
	var sb strings.Builder
	sb.WriteString(`<html><head><title>Shop</title></head><body><nav><a href="/">Home</a></nav><ul class="products">`)
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&sb, `<li class="product"><img src="/img/%d.png"><a href="/p/%d">Product %d</a><span class="price">$%d.99</span></li>`, i, i, i, i)
	}
	sb.WriteString(`</ul></body></html>`)
	return sb.String()
}

type testEnv struct {
	server *Server
	store  *store.MemoryStore
	cache  *cache.MemoryCache
	site   *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/empty" {
			_, _ = w.Write([]byte(`<html><body><p>nothing here</p></body></html>`))
			return
		}
		_, _ = w.Write([]byte(productPage(6)))
	}))
	t.Cleanup(site.Close)

	cfg := config.Default()
	cfg.Scraper.TimeoutMs = 5000

	fetcher := scraper.NewHTTPFetcher(5*time.Second, "", false, nil)
	runner := extract.NewRunner(fetcher, 5*time.Second, nil)
	st := store.NewMemoryStore()
	c := cache.NewMemoryCache(time.Hour)
	gen := schema.NewGenerator(staticAI{reply: productsReply}, c, schema.Options{MaxRetries: 0}, nil)

	deps := &Deps{
		Validator: services.NewValidationService(services.ValidationDeps{
			Inspector: inspector.New(fetcher, 5*time.Second, nil),
			Generator: gen,
			Runner:    runner,
			Store:     st,
		}),
		Schemas: gen,
		Runner:  runner,
		Fetcher: fetcher,
		Store:   st,
		Cache:   c,
	}
	return &testEnv{server: NewServer(cfg, deps, nil), store: st, cache: c, site: site}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.server.App().Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	raw, _ := io.ReadAll(resp.Body)
	out := map[string]any{}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
	}
	return resp, out
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodGet, "/healthz", "")
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("unexpected shallow health %d %v", resp.StatusCode, body)
	}

	_, body = env.do(t, http.MethodGet, "/healthz?deep=true", "")
	if body["db"] != "disabled" || body["redis"] != "disabled" || body["status"] != "ok" {
		t.Fatalf("unexpected deep health %v", body)
	}
}

func TestRequestIDEchoedAndMetricsExported(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "req-123")
	resp, err := env.server.App().Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.Header.Get(requestIDHeader) != "req-123" {
		t.Fatalf("expected request id to be echoed, got %q", resp.Header.Get(requestIDHeader))
	}

	resp, _ = env.do(t, http.MethodGet, "/metrics", "")
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain") {
		t.Fatalf("unexpected metrics response %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
}

func TestUnknownRouteUsesEnvelope(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(t, http.MethodGet, "/v1/nope", "")
	if resp.StatusCode != http.StatusNotFound || body["code"] != "NOT_FOUND" || body["success"] != false {
		t.Fatalf("unexpected 404 response %d %v", resp.StatusCode, body)
	}
}

func TestValidateApproveFlow(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/v1/tasks/validate", `{"instruction":"get prices"}`)
	if resp.StatusCode != http.StatusBadRequest || body["code"] != "BAD_REQUEST" {
		t.Fatalf("expected missing url error, got %d %v", resp.StatusCode, body)
	}

	resp, body = env.do(t, http.MethodPost, "/v1/tasks/validate",
		fmt.Sprintf(`{"url":%q,"instruction":"fetch product title and price","scheduleIntervalHours":12}`, env.site.URL+"/shop"))
	if resp.StatusCode != http.StatusOK || body["success"] != true {
		t.Fatalf("unexpected validate response %d %v", resp.StatusCode, body)
	}
	data := body["data"].(map[string]any)
	if data["testResultCount"].(float64) != 6 {
		t.Fatalf("expected 6 test results, got %v", data["testResultCount"])
	}
	taskID, _ := data["taskId"].(string)
	if taskID == "" {
		t.Fatalf("expected a pending task id, got %v", data)
	}

	resp, body = env.do(t, http.MethodPost, "/v1/tasks/"+taskID+"/approve", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve failed %d %v", resp.StatusCode, body)
	}
	if task := body["data"].(map[string]any); task["status"] != "active" {
		t.Fatalf("expected active task, got %v", task)
	}
	active, _ := env.store.ListActiveTasks(context.Background())
	if len(active) != 1 || active[0].ScheduleIntervalHours != 12 {
		t.Fatalf("unexpected active tasks %+v", active)
	}

	resp, body = env.do(t, http.MethodPost, "/v1/tasks/"+taskID+"/approve", "")
	if resp.StatusCode != http.StatusConflict || body["code"] != "TASK_NOT_PENDING" {
		t.Fatalf("expected conflict on second approval, got %d %v", resp.StatusCode, body)
	}

	resp, _ = env.do(t, http.MethodPost, "/v1/tasks/7a1e1f9e-7dc5-4c1e-8f43-0a4c1c0b7a11/approve", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown task, got %d", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodPost, "/v1/tasks/not-a-uuid/approve", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed id, got %d", resp.StatusCode)
	}
}

func TestValidateReportsPipelineErrors(t *testing.T) {
	env := newTestEnv(t)
	_, body := env.do(t, http.MethodPost, "/v1/tasks/validate",
		fmt.Sprintf(`{"url":%q,"instruction":"fetch product title and price"}`, env.site.URL+"/empty"))
	if body["success"] != false {
		t.Fatalf("expected unsuccessful validation, got %v", body)
	}
	data := body["data"].(map[string]any)
	if data["status"] != "error" || data["taskId"] != nil {
		t.Fatalf("expected error result without task, got %v", data)
	}
}

func TestScrapeEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/v1/scrape",
		fmt.Sprintf(`{"url":%q,"schema":{"selectors":[{"field":"container","selector":"li.product"},{"field":"price","selector":"span.price"}],"filters":[{"field":"price","operator":">","value":4}]}}`, env.site.URL))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("scrape failed %d %v", resp.StatusCode, body)
	}
	if body["count"].(float64) != 3 {
		t.Fatalf("expected 3 products priced above 4, got %v", body["count"])
	}

	resp, body = env.do(t, http.MethodPost, "/v1/scrape",
		fmt.Sprintf(`{"url":%q,"schema":{"selectors":[]}}`, env.site.URL))
	if resp.StatusCode != http.StatusBadRequest || body["code"] != "INVALID_SCHEMA" {
		t.Fatalf("expected invalid schema, got %d %v", resp.StatusCode, body)
	}

	resp, body = env.do(t, http.MethodPost, "/v1/scrape",
		fmt.Sprintf(`{"url":%q,"schema":{"selectors":[{"field":"container","selector":"article"}]}}`, env.site.URL))
	if resp.StatusCode != http.StatusUnprocessableEntity || body["code"] != "NO_CONTAINERS" {
		t.Fatalf("expected no containers, got %d %v", resp.StatusCode, body)
	}

	resp, body = env.do(t, http.MethodPost, "/v1/scrape", `{"schema":{}}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected missing url, got %d %v", resp.StatusCode, body)
	}
}

func TestDetectEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/v1/detect", fmt.Sprintf(`{"url":%q}`, env.site.URL))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("detect failed %d %v", resp.StatusCode, body)
	}
	if body["itemSelector"] != "ul.products > li" || body["pattern"] != "ul.products li.product" || body["itemCount"].(float64) != 6 {
		t.Fatalf("unexpected detection %v", body)
	}
	if records := body["records"].([]any); len(records) != 6 {
		t.Fatalf("expected 6 records, got %d", len(records))
	}

	resp, body = env.do(t, http.MethodPost, "/v1/detect", fmt.Sprintf(`{"url":%q}`, env.site.URL+"/empty"))
	if resp.StatusCode != http.StatusUnprocessableEntity || body["code"] != "NO_PATTERN" {
		t.Fatalf("expected no pattern, got %d %v", resp.StatusCode, body)
	}
}

func TestParseInstructionEndpoint(t *testing.T) {
	env := newTestEnv(t)
	_, body := env.do(t, http.MethodPost, "/v1/instructions/parse", `{"instruction":"top 500 items"}`)
	data := body["data"].(map[string]any)
	if data["resultLimit"].(float64) != 50 || data["hasExplicitLimit"] != true {
		t.Fatalf("expected clamped limit, got %v", data)
	}

	resp, _ := env.do(t, http.MethodPost, "/v1/instructions/parse", `{"instruction":"  "}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank instruction, got %d", resp.StatusCode)
	}
}

func TestAdaptURLEndpoint(t *testing.T) {
	env := newTestEnv(t)
	_, body := env.do(t, http.MethodPost, "/v1/urls/adapt", `{"url":"https://www.reddit.com/r/golang"}`)
	data := body["data"].(map[string]any)
	if data["type"] != "json" || !strings.HasSuffix(data["adapted"].(string), ".json") {
		t.Fatalf("unexpected adaptation %v", data)
	}

	resp, body := env.do(t, http.MethodPost, "/v1/urls/adapt", `{"url":"ftp://files.test/x"}`)
	if resp.StatusCode != http.StatusBadRequest || body["code"] != "BAD_REQUEST_INVALID_URL" {
		t.Fatalf("expected invalid url, got %d %v", resp.StatusCode, body)
	}
}

func TestClearCacheEndpoint(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.cache.Set(ctx, cache.GenerateKey(cache.Params{"type": "schema_html", "url": "https://a.test/"}), []byte(`{}`))
	env.cache.Set(ctx, cache.GenerateKey(cache.Params{"type": "schema_instruction", "url": "https://a.test/"}), []byte(`{}`))

	_, body := env.do(t, http.MethodDelete, "/v1/cache?type=schema_html", "")
	if body["cleared"].(float64) != 1 {
		t.Fatalf("expected one cleared entry, got %v", body)
	}
	_, body = env.do(t, http.MethodDelete, "/v1/cache", `{"url":"https://a.test"}`)
	if body["cleared"].(float64) != 1 || env.cache.Len() != 0 {
		t.Fatalf("expected remaining entry cleared, got %v (len %d)", body, env.cache.Len())
	}
}

func TestGenerateSchemaEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/v1/schemas/generate", `{"url":"shop.test/list","instruction":"get product prices"}`)
	if resp.StatusCode != http.StatusOK || body["success"] != true {
		t.Fatalf("generate failed %d %v", resp.StatusCode, body)
	}
	data := body["data"].(map[string]any)
	selectors := data["schema"].(map[string]any)["selectors"].([]any)
	if first := selectors[0].(map[string]any); first["selector"] != "li.product" || data["providerName"] != "static" {
		t.Fatalf("unexpected generated schema %v", data)
	}

	resp, body = env.do(t, http.MethodPost, "/v1/schemas/generate", `{"url":"shop.test/list"}`)
	if resp.StatusCode != http.StatusBadRequest || body["code"] != "BAD_REQUEST" {
		t.Fatalf("expected missing instruction error, got %d %v", resp.StatusCode, body)
	}
	resp, body = env.do(t, http.MethodPost, "/v1/schemas/generate", `{"url":"ftp://shop.test","instruction":"get prices"}`)
	if resp.StatusCode != http.StatusBadRequest || body["code"] != "BAD_REQUEST_INVALID_URL" {
		t.Fatalf("expected invalid url error, got %d %v", resp.StatusCode, body)
	}
}

func TestGenerateSchemaEndpoint_NoProviders(t *testing.T) {
	gen := schema.NewGenerator(llm.NewOrchestrator(nil, nil), nil, schema.Options{}, nil)
	s := NewServer(config.Default(), &Deps{Schemas: gen}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/schemas/generate", strings.NewReader(`{"url":"https://shop.test","instruction":"get prices"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.App().Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	var body ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable || body.Code != "NO_AI_PROVIDERS" {
		t.Fatalf("expected 503 NO_AI_PROVIDERS, got %d %+v", resp.StatusCode, body)
	}
}
