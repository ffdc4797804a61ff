package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nerrad567/fluxquery/internal/flux"
	"github.com/nerrad567/fluxquery/internal/infrastructure/config"
	"github.com/nerrad567/fluxquery/internal/infrastructure/database"
	"github.com/nerrad567/fluxquery/internal/infrastructure/logging"
	"github.com/nerrad567/fluxquery/internal/query"
	"github.com/nerrad567/fluxquery/internal/snapshot"
	"github.com/nerrad567/fluxquery/migrations"
)

const cpuResponse = "#datatype,string,long,dateTime:RFC3339,double,string,string\r\n" +
	"#group,false,false,false,false,true,true\r\n" +
	"#default,_result,,,,,\r\n" +
	",result,table,_time,_value,_field,host\r\n" +
	",,0,2024-05-01T00:10:00Z,1.5,usage,a\r\n" +
	",,0,2024-05-01T00:20:00Z,2.5,usage,a\r\n" +
	",,1,2024-05-01T00:10:00Z,7,usage,b\r\n" +
	"\r\n"

const errorResponse = "#datatype,string,long\r\n" +
	"#group,true,true\r\n" +
	"#default,,\r\n" +
	",error,reference\r\n" +
	",unknown bucket,897\r\n"

// fakeInflux answers /ping and /api/v2/query. The query text selects the
// response: "fail" yields an error table, "upstream" a 500, "slow" blocks
// until the request is cancelled.
type fakeInflux struct {
	pingStatus atomic.Int32
	queries    atomic.Int32
}

func (f *fakeInflux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/ping":
		status := int(f.pingStatus.Load())
		if status == 0 {
			status = http.StatusNoContent
		}
		w.WriteHeader(status)
	case "/api/v2/query":
		f.queries.Add(1)
		var body struct {
			Query string `json:"query"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		switch {
		case strings.Contains(body.Query, "fail"):
			io.WriteString(w, errorResponse)
		case strings.Contains(body.Query, "upstream"):
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			io.WriteString(w, `{"code":"internal error","message":"storage unavailable"}`)
		case strings.Contains(body.Query, "slow"):
			<-r.Context().Done()
		default:
			w.Header().Set("Content-Type", "text/csv")
			io.WriteString(w, cpuResponse)
		}
	default:
		http.NotFound(w, r)
	}
}

type testEnv struct {
	srv    *Server
	router http.Handler
	influx *fakeInflux
	reg    *prometheus.Registry
}

// testServer creates a Server backed by a fake InfluxDB and, when withStore
// is set, a migrated SQLite snapshot store.
func testServer(t *testing.T, withStore bool) *testEnv {
	t.Helper()

	influx := &fakeInflux{}
	upstream := httptest.NewServer(influx)
	t.Cleanup(upstream.Close)

	qc, err := query.New(
		config.InfluxDBConfig{Enabled: true, URL: upstream.URL, Token: "t", Org: "o"},
		config.QueryConfig{Timeout: 5, Mode: "full"},
	)
	if err != nil {
		t.Fatalf("query.New() error = %v", err)
	}
	t.Cleanup(qc.Close)

	deps := Deps{
		Config: config.APIConfig{Host: "127.0.0.1", Port: 0},
		WS: config.WebSocketConfig{
			Path:           "/api/v1/stream",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:   logging.Nop(),
		Query:    qc,
		Registry: prometheus.NewRegistry(),
		Version:  "test",
	}

	if withStore {
		db, err := database.Open(context.Background(), config.DatabaseConfig{
			Enabled:     true,
			Path:        filepath.Join(t.TempDir(), "api.db"),
			BusyTimeout: 5,
		})
		if err != nil {
			t.Fatalf("database.Open() error = %v", err)
		}
		t.Cleanup(func() { _ = db.Close() })
		if _, err := db.Migrate(context.Background(), migrations.FS); err != nil {
			t.Fatalf("Migrate() error = %v", err)
		}
		deps.Snapshots = snapshot.NewSQLiteRepository(db.DB)
		deps.DB = db.DB
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	return &testEnv{srv: srv, router: srv.buildRouter(), influx: influx, reg: deps.Registry}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), dst); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
}

// ─── Lifecycle Tests ───────────────────────────────────────────────

func TestNew_Validation(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: logging.Nop()}); err == nil {
		t.Error("New() without query client should fail")
	}
}

func TestStartClose(t *testing.T) {
	env := testServer(t, false)

	if err := env.srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}
	if err := env.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := env.srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	resp, err := http.Get("http://" + env.srv.Addr().String() + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200", resp.StatusCode)
	}

	if err := env.srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

// ─── Health & Metrics Tests ────────────────────────────────────────

func TestHealth(t *testing.T) {
	env := testServer(t, false)

	w := env.do(t, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var resp map[string]any
	decodeBody(t, w, &resp)
	if resp["status"] != "ok" || resp["version"] != "test" || resp["influxdb"] != "ok" {
		t.Errorf("health = %v", resp)
	}
}

func TestHealth_InfluxDown(t *testing.T) {
	env := testServer(t, false)
	env.influx.pingStatus.Store(http.StatusServiceUnavailable)

	w := env.do(t, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("health status = %d, want 503", w.Code)
	}
	var resp map[string]any
	decodeBody(t, w, &resp)
	if resp["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", resp["status"])
	}
}

func TestSystem(t *testing.T) {
	env := testServer(t, true)

	w := env.do(t, http.MethodGet, "/api/v1/system", "")
	if w.Code != http.StatusOK {
		t.Fatalf("system status = %d", w.Code)
	}
	var resp SystemMetrics
	decodeBody(t, w, &resp)
	if resp.Query.Mode != "full" {
		t.Errorf("query mode = %q, want full", resp.Query.Mode)
	}
	if resp.Database == nil {
		t.Error("database stats missing")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := testServer(t, false)

	env.do(t, http.MethodGet, "/api/v1/health", "")

	got := testutil.ToFloat64(env.srv.metrics.requests.WithLabelValues("GET", "/api/v1/health", "200"))
	if got != 1 {
		t.Errorf("requests{/api/v1/health} = %v, want 1", got)
	}

	w := env.do(t, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}
	for _, name := range []string{"fluxquery_http_requests_total", "fluxquery_websocket_clients"} {
		if !strings.Contains(w.Body.String(), name) {
			t.Errorf("/metrics missing %s", name)
		}
	}
}

// ─── Middleware Tests ──────────────────────────────────────────────

func TestRequestID(t *testing.T) {
	env := testServer(t, false)

	w := env.do(t, http.MethodGet, "/api/v1/health", "")
	if id := w.Header().Get("X-Request-ID"); len(id) != 36 {
		t.Errorf("generated X-Request-ID = %q, want a UUID", id)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want client-123", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "has space")
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); len(got) != 36 {
		t.Errorf("invalid X-Request-ID kept as %q, want a fresh UUID", got)
	}
}

func TestValidRequestID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"", false},
		{"abc-123", true},
		{"has space", false},
		{"tab\tinside", false},
		{strings.Repeat("x", maxRequestIDLength), true},
		{strings.Repeat("x", maxRequestIDLength+1), false},
	}
	for _, tt := range tests {
		if got := validRequestID(tt.id); got != tt.want {
			t.Errorf("validRequestID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestCORS_Preflight(t *testing.T) {
	env := testServer(t, false)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/query", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q", got)
	}
}

func TestNotFound(t *testing.T) {
	env := testServer(t, false)
	if w := env.do(t, http.MethodGet, "/api/v1/nonexistent", ""); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

// ─── Query Tests ───────────────────────────────────────────────────

func TestQuery(t *testing.T) {
	env := testServer(t, false)

	w := env.do(t, http.MethodPost, "/api/v1/query", `{"query":"from(bucket:\"b\")"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("query status = %d, body %s", w.Code, w.Body.String())
	}

	var resp struct {
		Tables []struct {
			Index   int              `json:"index"`
			ID      int              `json:"id"`
			Records []map[string]any `json:"records"`
		} `json:"tables"`
		Records int `json:"records"`
	}
	decodeBody(t, w, &resp)

	if len(resp.Tables) != 2 || resp.Records != 3 {
		t.Fatalf("got %d tables, %d records, want 2, 3", len(resp.Tables), resp.Records)
	}
	if resp.Tables[1].ID != 1 || resp.Tables[1].Records[0]["host"] != "b" {
		t.Errorf("table 1 = %+v", resp.Tables[1])
	}
	if v := resp.Tables[0].Records[1]["_value"]; v != 2.5 {
		t.Errorf("_value = %v, want 2.5", v)
	}
}

func TestQuery_Errors(t *testing.T) {
	env := testServer(t, false)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"invalid json", `not json`, http.StatusBadRequest, ErrCodeBadRequest},
		{"empty body", ``, http.StatusBadRequest, ErrCodeBadRequest},
		{"unknown field", `{"query":"q","extra":1}`, http.StatusBadRequest, ErrCodeBadRequest},
		{"blank query", `{"query":"  "}`, http.StatusBadRequest, ErrCodeBadRequest},
		{"error table", `{"query":"fail"}`, http.StatusBadRequest, ErrCodeQuery},
		{"upstream 500", `{"query":"upstream"}`, http.StatusBadGateway, ErrCodeUpstream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/v1/query", tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
			var e Error
			decodeBody(t, w, &e)
			if e.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", e.Code, tt.wantCode)
			}
		})
	}
}

func TestQuery_ErrorTableReference(t *testing.T) {
	env := testServer(t, false)

	w := env.do(t, http.MethodPost, "/api/v1/query", `{"query":"fail"}`)
	var e Error
	decodeBody(t, w, &e)
	if e.Message != "unknown bucket" || e.Reference != 897 {
		t.Errorf("error = %+v, want unknown bucket / 897", e)
	}
}

func TestQueryRaw(t *testing.T) {
	env := testServer(t, false)

	w := env.do(t, http.MethodPost, "/api/v1/query/raw", `{"query":"q","dialect":{"header":true,"delimiter":","}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("raw status = %d, body %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Content-Type = %q, want text/csv", ct)
	}
	if w.Body.String() != cpuResponse {
		t.Errorf("raw body = %q", w.Body.String())
	}
}

// ─── Snapshot Tests ────────────────────────────────────────────────

func TestSnapshots_Disabled(t *testing.T) {
	env := testServer(t, false)

	w := env.do(t, http.MethodGet, "/api/v1/snapshots", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestSnapshots_Lifecycle(t *testing.T) {
	env := testServer(t, true)

	// Create
	w := env.do(t, http.MethodPost, "/api/v1/snapshots", `{"name":"cpu","query":"from(bucket:\"b\")"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", w.Code, w.Body.String())
	}
	var created snapshot.Snapshot
	decodeBody(t, w, &created)
	if created.ID == "" || created.TableCount != 2 || created.RecordCount != 3 || created.Mode != "full" {
		t.Fatalf("created = %+v", created)
	}

	// List
	w = env.do(t, http.MethodGet, "/api/v1/snapshots?limit=10", "")
	var list struct {
		Snapshots []snapshot.Snapshot `json:"snapshots"`
		Count     int                 `json:"count"`
	}
	decodeBody(t, w, &list)
	if list.Count != 1 || list.Snapshots[0].ID != created.ID {
		t.Errorf("list = %+v", list)
	}

	// Get
	w = env.do(t, http.MethodGet, "/api/v1/snapshots/"+created.ID, "")
	if w.Code != http.StatusOK {
		t.Errorf("get status = %d", w.Code)
	}

	// Tables
	w = env.do(t, http.MethodGet, "/api/v1/snapshots/"+created.ID+"/tables", "")
	if w.Code != http.StatusOK {
		t.Fatalf("tables status = %d, body %s", w.Code, w.Body.String())
	}
	var tables struct {
		Snapshot snapshot.Snapshot `json:"snapshot"`
		Tables   []struct {
			Records []map[string]any `json:"records"`
		} `json:"tables"`
	}
	decodeBody(t, w, &tables)
	if len(tables.Tables) != 2 || len(tables.Tables[0].Records) != 2 {
		t.Fatalf("tables = %+v", tables.Tables)
	}
	if got := tables.Tables[0].Records[0]["_time"]; got != "2024-05-01T00:10:00Z" {
		t.Errorf("_time = %v", got)
	}

	// Delete
	if w = env.do(t, http.MethodDelete, "/api/v1/snapshots/"+created.ID, ""); w.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", w.Code)
	}
	if w = env.do(t, http.MethodGet, "/api/v1/snapshots/"+created.ID, ""); w.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", w.Code)
	}
	if w = env.do(t, http.MethodDelete, "/api/v1/snapshots/"+created.ID, ""); w.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", w.Code)
	}
}

func TestSnapshots_BadRequests(t *testing.T) {
	env := testServer(t, true)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{"bad limit", http.MethodGet, "/api/v1/snapshots?limit=abc", "", http.StatusBadRequest},
		{"negative limit", http.MethodGet, "/api/v1/snapshots?limit=-1", "", http.StatusBadRequest},
		{"missing query", http.MethodPost, "/api/v1/snapshots", `{"name":"x"}`, http.StatusBadRequest},
		{"failing query", http.MethodPost, "/api/v1/snapshots", `{"query":"fail"}`, http.StatusBadRequest},
		{"unknown tables", http.MethodGet, "/api/v1/snapshots/nope/tables", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := env.do(t, tt.method, tt.path, tt.body); w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

// ─── WebSocket Tests ───────────────────────────────────────────────

func dialStream(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()

	ts := httptest.NewServer(env.router)
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readWS(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	//nolint:errcheck // Test deadline
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return msg
}

func TestWebSocket_StreamQuery(t *testing.T) {
	env := testServer(t, false)
	conn := dialStream(t, env)

	if err := conn.WriteJSON(map[string]any{
		"type":    "query",
		"id":      "q1",
		"payload": map[string]string{"query": "from(bucket:\"b\")"},
	}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	wantTypes := []string{WSTypeTable, WSTypeRecord, WSTypeRecord, WSTypeTable, WSTypeRecord, WSTypeDone}
	var last WSMessage
	for i, want := range wantTypes {
		last = readWS(t, conn)
		if last.Type != want || last.ID != "q1" {
			t.Fatalf("message %d = %s/%s, want %s/q1 (payload %s)", i, last.Type, last.ID, want, last.Payload)
		}
		if i == 4 {
			var rec struct {
				Table  int            `json:"table"`
				Values map[string]any `json:"values"`
			}
			if err := json.Unmarshal(last.Payload, &rec); err != nil {
				t.Fatalf("record payload: %v", err)
			}
			if rec.Table != 1 || rec.Values["host"] != "b" {
				t.Errorf("record = table %d %v", rec.Table, rec.Values)
			}
		}
	}

	var done WSDone
	if err := json.Unmarshal(last.Payload, &done); err != nil {
		t.Fatalf("done payload: %v", err)
	}
	if done.Tables != 2 || done.Records != 3 {
		t.Errorf("done = %+v, want 2 tables, 3 records", done)
	}
}

func TestWebSocket_Errors(t *testing.T) {
	env := testServer(t, false)
	conn := dialStream(t, env)

	tests := []struct {
		name    string
		message string
		wantMsg string
		wantRef int
	}{
		{"invalid json", `nope`, "invalid JSON message", 0},
		{"unknown type", `{"type":"subscribe","id":"x"}`, "unknown message type: subscribe", 0},
		{"missing payload", `{"type":"query","id":"x"}`, "invalid query payload", 0},
		{"blank query", `{"type":"query","id":"x","payload":{"query":""}}`, "query is required", 0},
		{"error table", `{"type":"query","id":"x","payload":{"query":"fail"}}`, "unknown bucket", 897},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(tt.message)); err != nil {
				t.Fatalf("WriteMessage() error = %v", err)
			}
			msg := readWS(t, conn)
			if msg.Type != WSTypeError {
				t.Fatalf("type = %q, want error", msg.Type)
			}
			var e WSError
			if err := json.Unmarshal(msg.Payload, &e); err != nil {
				t.Fatalf("error payload: %v", err)
			}
			if e.Message != tt.wantMsg || e.Reference != tt.wantRef {
				t.Errorf("error = %+v, want %q/%d", e, tt.wantMsg, tt.wantRef)
			}
		})
	}
}

func TestWebSocket_PingAndCancel(t *testing.T) {
	env := testServer(t, false)
	conn := dialStream(t, env)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping","id":"p"}`)); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	if msg := readWS(t, conn); msg.Type != WSTypePong || msg.ID != "p" {
		t.Fatalf("got %s/%s, want pong/p", msg.Type, msg.ID)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"query","id":"s","payload":{"query":"slow"}}`)); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for env.influx.queries.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"cancel","id":"s"}`)); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}

	msg := readWS(t, conn)
	if msg.Type != WSTypeError || msg.ID != "s" {
		t.Fatalf("got %s/%s, want error/s", msg.Type, msg.ID)
	}
	if env.srv.hub.ClientCount() != 1 {
		t.Errorf("ClientCount() = %d, want 1", env.srv.hub.ClientCount())
	}
}

// fullBufferQuerier emits exactly enough frames to fill a client's send
// buffer before the query finishes.
type fullBufferQuerier struct {
	Querier
	err error
}

func (q fullBufferQuerier) QueryStream(_ context.Context, _ string, consumer flux.Consumer) error {
	cols := []flux.Column{
		{Index: 0, Name: "table", DataType: flux.TypeLong},
		{Index: 1, Name: "_value", DataType: flux.TypeDouble},
	}
	canceller := &flux.Canceller{}
	if err := consumer.OnTable(0, canceller, &flux.Table{Columns: cols}); err != nil {
		return err
	}
	for i := range wsSendBufferSize - 1 {
		if err := consumer.OnRecord(0, canceller, flux.NewRecord(0, cols, []any{int64(0), float64(i)})); err != nil {
			return err
		}
	}
	return q.err
}

func TestWebSocket_FinalFrameAfterFullBuffer(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantType string
	}{
		{"done", nil, WSTypeDone},
		{"query error", &flux.QueryError{Message: "unknown bucket", Reference: 897}, WSTypeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			hub := NewHub(config.WebSocketConfig{}, logging.Nop())
			client := newWSClient(ctx, cancel, hub, nil, fullBufferQuerier{err: tt.err})

			finished := make(chan struct{})
			go func() {
				defer close(finished)
				client.streamQuery(ctx, "big", "q")
			}()

			// Let the stream fill the buffer before anything is read.
			deadline := time.Now().Add(2 * time.Second)
			for len(client.send) < wsSendBufferSize && time.Now().Before(deadline) {
				time.Sleep(time.Millisecond)
			}
			if len(client.send) != wsSendBufferSize {
				t.Fatalf("send buffer holds %d frames, want %d", len(client.send), wsSendBufferSize)
			}

			var frames []WSMessage
			timeout := time.After(2 * time.Second)
			for len(frames) < wsSendBufferSize+1 {
				select {
				case data := <-client.send:
					var msg WSMessage
					if err := json.Unmarshal(data, &msg); err != nil {
						t.Fatalf("unmarshal frame: %v", err)
					}
					frames = append(frames, msg)
				case <-timeout:
					t.Fatalf("got %d frames, want %d", len(frames), wsSendBufferSize+1)
				}
			}
			<-finished

			last := frames[len(frames)-1]
			if last.Type != tt.wantType || last.ID != "big" {
				t.Fatalf("last frame = %s/%s, want %s/big", last.Type, last.ID, tt.wantType)
			}
			if tt.wantType == WSTypeDone {
				var done WSDone
				if err := json.Unmarshal(last.Payload, &done); err != nil {
					t.Fatal(err)
				}
				if done.Tables != 1 || done.Records != wsSendBufferSize-1 {
					t.Errorf("done = %+v", done)
				}
			}
		})
	}
}

func TestWSTimings(t *testing.T) {
	ping, pong := wsTimings(config.WebSocketConfig{})
	if ping != 30*time.Second || pong != 10*time.Second {
		t.Errorf("defaults = %v/%v, want 30s/10s", ping, pong)
	}
	ping, pong = wsTimings(config.WebSocketConfig{PingInterval: 5, PongTimeout: 2})
	if ping != 5*time.Second || pong != 2*time.Second {
		t.Errorf("configured = %v/%v, want 5s/2s", ping, pong)
	}
}
