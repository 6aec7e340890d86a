// Collabd - Real-Time Collaborative Code Editing Backend
// SPDX-License-Identifier: MIT
// https://github.com/collabd/collabd

package api

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/collabd/collabd/internal/ai"
	"github.com/collabd/collabd/internal/capture"
	"github.com/collabd/collabd/internal/chat"
	"github.com/collabd/collabd/internal/config"
	"github.com/collabd/collabd/internal/logging"
	"github.com/collabd/collabd/internal/protocol"
	"github.com/collabd/collabd/internal/room"
)

//nolint:gochecknoinits // init ensures quiet logging for tests
func init() {
	logging.Init(logging.Config{Level: "error", Format: "json", Output: io.Discard})
}

// testEnv is a full server wired against a fake AI upstream. A nil
// upstream handler leaves the AI client unconfigured.
type testEnv struct {
	ts     *httptest.Server
	engine *capture.Engine
	cfg    *config.Config
}

func newTestEnv(t *testing.T, upstream http.HandlerFunc) *testEnv {
	t.Helper()

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	aiCfg := ai.Config{
		Timeout:           2 * time.Second,
		RequestsPerMinute: 1000,
	}
	if upstream != nil {
		mux := http.NewServeMux()
		mux.HandleFunc("/v1/chat/completions", upstream)
		fake := httptest.NewServer(mux)
		t.Cleanup(fake.Close)
		aiCfg.APIKey = "test-key"
		aiCfg.BaseURL = fake.URL + "/v1"
	}
	aiClient := ai.NewClient(aiCfg)

	registry := room.NewRegistry(room.DefaultConfig())
	gateway := chat.NewGateway(chat.DefaultConfig(), registry)
	engine := capture.NewEngine(aiClient)

	srv := NewServer(cfg, registry, gateway, aiClient, engine)
	ts := httptest.NewServer(NewRouter(srv))
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, engine: engine, cfg: cfg}
}

// completionReply writes a minimal chat completion carrying content.
func completionReply(t *testing.T, w http.ResponseWriter, content string) {
	t.Helper()
	quoted, err := json.Marshal(content)
	if err != nil {
		t.Fatal(err)
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"id":"cmpl-1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":%s},"finish_reason":"stop"}]}`, quoted)
}

func postJSON(t *testing.T, url string, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewReader([]byte(body)))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func errorCode(t *testing.T, body map[string]any) string {
	t.Helper()
	apiErr, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("no error object in %v", body)
	}
	code, _ := apiErr["code"].(string)
	return code
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.Get(env.ts.URL + "/api/v1/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["success"] != true || body["status"] != "ok" {
		t.Fatalf("unexpected health body: %v", body)
	}
	if _, ok := body["timestamp"].(string); !ok {
		t.Fatalf("missing timestamp in %v", body)
	}
}

func TestReviewEndToEnd(t *testing.T) {
	reply := `[{"line":3,"severity":"warning","title":"Unused variable","suggestion":"Remove it"}]`
	env := newTestEnv(t, func(w http.ResponseWriter, _ *http.Request) {
		completionReply(t, w, reply)
	})

	resp := postJSON(t, env.ts.URL+"/api/v1/review",
		`{"code":"let x = 1;","language":"javascript","focus":"correctness"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	review, ok := body["review"].(map[string]any)
	if !ok {
		t.Fatalf("no review object in %v", body)
	}
	issues, ok := review["issues"].([]any)
	if !ok || len(issues) != 1 {
		t.Fatalf("issues = %v, want one issue", review["issues"])
	}
	summary, _ := review["summary"].(string)
	if !strings.Contains(summary, "1 issue") {
		t.Fatalf("summary = %q", summary)
	}
}

func TestReviewValidation(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, _ *http.Request) {
		t.Error("upstream must not be called for invalid requests")
		completionReply(t, w, "[]")
	})

	cases := []struct {
		name string
		body string
	}{
		{"not json", `{"code":`},
		{"missing code", `{"language":"go"}`},
		{"missing language", `{"code":"x"}`},
		{"bad focus", `{"code":"x","language":"go","focus":"vibes"}`},
		{"oversize code", fmt.Sprintf(`{"code":%q,"language":"go"}`, strings.Repeat("a", 10001))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, env.ts.URL+"/api/v1/review", tc.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
			body := decodeBody(t, resp)
			if body["success"] != false {
				t.Fatalf("success = %v, want false", body["success"])
			}
		})
	}
}

func TestUnconfiguredAIReturns503(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := postJSON(t, env.ts.URL+"/api/v1/review", `{"code":"x","language":"go"}`)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	if code := errorCode(t, decodeBody(t, resp)); code != ErrCodeServiceUnavailable {
		t.Fatalf("error code = %q", code)
	}
}

func TestUpstreamTimeoutReturns504(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(3 * time.Second)
		completionReply(t, w, "[]")
	})

	resp := postJSON(t, env.ts.URL+"/api/v1/review", `{"code":"x","language":"go"}`)
	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", resp.StatusCode)
	}
}

func TestDebugAnalyzeTracksFault(t *testing.T) {
	analysis := `{"errorType":"TypeError","rootCause":"x is undefined","explanation":"...","fixSuggestions":[],"confidence":0.9}`
	env := newTestEnv(t, func(w http.ResponseWriter, _ *http.Request) {
		completionReply(t, w, analysis)
	})

	resp := postJSON(t, env.ts.URL+"/api/v1/debug/analyze",
		`{"error":{"message":"x is not defined","line":7},"code":"console.log(x)","language":"javascript"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	got, ok := body["analysis"].(map[string]any)
	if !ok || got["errorType"] != "TypeError" {
		t.Fatalf("analysis = %v", body["analysis"])
	}
	faultID, _ := body["faultId"].(string)
	if faultID == "" {
		t.Fatal("missing faultId")
	}

	// The fault is tracked with its analysis attached.
	listResp, err := http.Get(env.ts.URL + "/api/v1/debug/faults")
	if err != nil {
		t.Fatal(err)
	}
	defer listResp.Body.Close()
	listBody := decodeBody(t, listResp)
	faults, ok := listBody["faults"].([]any)
	if !ok || len(faults) != 1 {
		t.Fatalf("faults = %v, want one entry", listBody["faults"])
	}

	// Dismissal removes it from the active view.
	dis := postJSON(t, env.ts.URL+"/api/v1/debug/faults/"+faultID+"/dismiss", "")
	if dis.StatusCode != http.StatusOK {
		t.Fatalf("dismiss status = %d", dis.StatusCode)
	}
	if active := env.engine.Active(); len(active) != 0 {
		t.Fatalf("active after dismiss = %d, want 0", len(active))
	}
}

func TestDebugAnalyzeWithClientHistoryBypassesEngineState(t *testing.T) {
	analysis := `{"errorType":"RangeError","rootCause":"","explanation":"","fixSuggestions":[],"confidence":0.5}`
	var (
		mu     sync.Mutex
		prompt string
	)
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		mu.Lock()
		prompt = string(raw)
		mu.Unlock()
		completionReply(t, w, analysis)
	})

	resp := postJSON(t, env.ts.URL+"/api/v1/debug/analyze",
		`{"error":{"message":"boom"},"code":"x()","language":"go","errorHistory":["earlier failure"]}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	mu.Lock()
	forwarded := strings.Contains(prompt, "earlier failure")
	mu.Unlock()
	if !forwarded {
		t.Fatal("client-supplied history not forwarded upstream")
	}
	// The fault is still captured for later inspection.
	if got := len(env.engine.Active()); got != 1 {
		t.Fatalf("active faults = %d, want 1", got)
	}
}

func TestDebugSteps(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, _ *http.Request) {
		completionReply(t, w, `["Check the stack trace","Add a breakpoint at line 7"]`)
	})

	resp := postJSON(t, env.ts.URL+"/api/v1/debug/steps",
		`{"error":{"message":"boom"},"code":"x()","language":"go"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	steps, ok := body["steps"].([]any)
	if !ok || len(steps) != 2 {
		t.Fatalf("steps = %v, want two entries", body["steps"])
	}
}

func TestFaultClearAndUnknownDismiss(t *testing.T) {
	env := newTestEnv(t, nil)

	env.engine.Capture(capture.RuntimeFault{Message: "boom"})

	req, err := http.NewRequest(http.MethodDelete, env.ts.URL+"/api/v1/debug/faults", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("clear status = %d", resp.StatusCode)
	}
	if got := len(env.engine.Faults()); got != 0 {
		t.Fatalf("faults after clear = %d, want 0", got)
	}

	dis := postJSON(t, env.ts.URL+"/api/v1/debug/faults/no-such-id/dismiss", "")
	if dis.StatusCode != http.StatusNotFound {
		t.Fatalf("dismiss status = %d, want 404", dis.StatusCode)
	}
}

func TestReviewRateLimit(t *testing.T) {
	env := newTestEnv(t, nil)
	env.cfg.RateLimit.ReviewRequests = 2

	// Router was built before the override, so rebuild against it.
	srv := NewServer(env.cfg, room.NewRegistry(room.DefaultConfig()), nil, ai.NewClient(ai.Config{}), env.engine)
	ts := httptest.NewServer(NewRouter(srv))
	defer ts.Close()

	for i := 0; i < 2; i++ {
		resp := postJSON(t, ts.URL+"/api/v1/review", `{}`)
		if resp.StatusCode == http.StatusTooManyRequests {
			t.Fatalf("request %d rate limited too early", i+1)
		}
	}
	resp := postJSON(t, ts.URL+"/api/v1/review", `{}`)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	if code := errorCode(t, decodeBody(t, resp)); code != ErrCodeTooManyRequests {
		t.Fatalf("error code = %q", code)
	}
}

func TestWebSocketThroughRouter(t *testing.T) {
	env := newTestEnv(t, nil)

	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	init, err := protocol.EncodeSyncInit("router-room")
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, init); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatal(err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	frame, err := protocol.DecodeFrame(data)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if frame.Lane != protocol.LaneSync {
		t.Fatalf("lane = %s, want sync", frame.Lane)
	}
	op, _, err := protocol.DecodeSync(frame.Payload)
	if err != nil || op != protocol.SyncOpUpdate {
		t.Fatalf("op = %d err = %v, want full-state update", op, err)
	}
}
