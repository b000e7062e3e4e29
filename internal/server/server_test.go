package server_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"TickVault/internal/observability"
	"TickVault/internal/oracle"
	"TickVault/internal/query"
	"TickVault/internal/server"
	"TickVault/internal/testutil"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

func e18(n uint64) *uint256.Int {
	v := uint256.NewInt(n)
	return v.Mul(v, uint256.NewInt(1_000_000_000_000_000_000))
}

const startTime = int64(1_700_000_000)

// newTestServer wires a router over an in-memory engine. Metrics stay nil
// so tests do not fight over the global Prometheus registry.
func newTestServer(t *testing.T) (http.Handler, *testutil.Harness) {
	t.Helper()
	h := testutil.NewHarness(t, testutil.TestParams(), e18(2000), startTime, nil)

	var mu sync.Mutex
	queries := query.NewService(&mu, h.Engine, nil)
	health := observability.NewHealthChecker()
	health.SetReady(true)

	srv := server.New(&mu, h.Engine, queries, health, nil)
	srv.SetPriceFeed(h.Oracle)
	return srv.Router(), h
}

func postJSON(t *testing.T, router http.Handler, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func getJSON(t *testing.T, router http.Handler, path string, out interface{}) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if out != nil && rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return rec
}

func TestDepositOverHTTP(t *testing.T) {
	router, h := newTestServer(t)
	user := uuid.New().String()

	rec := postJSON(t, router, "/v1/deposit/initiate", map[string]interface{}{
		"user":      user,
		"amount":    e18(100).Dec(),
		"timestamp": startTime,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("initiate status = %d, body %s", rec.Code, rec.Body)
	}

	rec = postJSON(t, router, "/v1/deposit/validate", map[string]interface{}{
		"user":      user,
		"timestamp": startTime,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("validate status = %d, body %s", rec.Code, rec.Body)
	}

	if !h.Engine.Storage().BalanceVault.Eq(e18(100)) {
		t.Errorf("vault balance = %s, want %s", h.Engine.Storage().BalanceVault, e18(100))
	}

	var pool query.PoolResponse
	getJSON(t, router, "/v1/pool", &pool)
	if pool.BalanceVault != e18(100).Dec() {
		t.Errorf("pool balance_vault = %s, want %s", pool.BalanceVault, e18(100).Dec())
	}
	if pool.AsOfSequence != h.Engine.Sequence() {
		t.Errorf("as_of_sequence = %d, want %d", pool.AsOfSequence, h.Engine.Sequence())
	}
}

func TestErrorStatusMapping(t *testing.T) {
	router, _ := newTestServer(t)
	user := uuid.New().String()

	// Zero amount -> 400.
	rec := postJSON(t, router, "/v1/deposit/initiate", map[string]interface{}{
		"user":      user,
		"timestamp": startTime,
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("zero deposit status = %d, want 400", rec.Code)
	}

	// Validating without a pending action -> 404.
	rec = postJSON(t, router, "/v1/deposit/validate", map[string]interface{}{
		"user":      user,
		"timestamp": startTime,
	}, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("validate without pending status = %d, want 404", rec.Code)
	}

	// A second initiate while one is pending -> 409.
	body := map[string]interface{}{
		"user":      user,
		"amount":    e18(100).Dec(),
		"timestamp": startTime,
	}
	if rec := postJSON(t, router, "/v1/deposit/initiate", body, nil); rec.Code != http.StatusOK {
		t.Fatalf("first initiate status = %d", rec.Code)
	}
	if rec := postJSON(t, router, "/v1/deposit/initiate", body, nil); rec.Code != http.StatusConflict {
		t.Errorf("duplicate initiate status = %d, want 409", rec.Code)
	}

	// Malformed user -> 400 before the engine is touched.
	rec = postJSON(t, router, "/v1/deposit/initiate", map[string]interface{}{
		"user": "not-a-uuid",
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad uuid status = %d, want 400", rec.Code)
	}
}

func TestIdempotencyKeyDeduplicates(t *testing.T) {
	router, h := newTestServer(t)
	user := uuid.New().String()
	headers := map[string]string{"Idempotency-Key": "dep-1"}
	body := map[string]interface{}{
		"user":      user,
		"amount":    e18(100).Dec(),
		"timestamp": startTime,
	}

	rec := postJSON(t, router, "/v1/deposit/initiate", body, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rec.Code)
	}

	// The replay is absorbed: no second pending action, no engine error.
	rec = postJSON(t, router, "/v1/deposit/initiate", body, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("replay status = %d, body %s", rec.Code, rec.Body)
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode replay: %v", err)
	}
	if resp["status"] != "duplicate" {
		t.Errorf("replay status field = %v, want duplicate", resp["status"])
	}
	if got := h.Engine.Queue().Len(); got != 1 {
		t.Errorf("queue length after replay = %d, want 1", got)
	}

	// The same key under a different action is a distinct request.
	rec = postJSON(t, router, "/v1/deposit/validate", map[string]interface{}{
		"user":      user,
		"timestamp": startTime,
	}, headers)
	if rec.Code != http.StatusOK {
		t.Fatalf("validate with reused key status = %d, body %s", rec.Code, rec.Body)
	}
	if got := h.Engine.Queue().Len(); got != 0 {
		t.Errorf("queue length after validate = %d, want 0", got)
	}

	// Failed commands are not recorded: the key stays usable.
	rec = postJSON(t, router, "/v1/deposit/validate", map[string]interface{}{
		"user":      user,
		"timestamp": startTime,
	}, map[string]string{"Idempotency-Key": "val-retry"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("validate without pending = %d, want 404", rec.Code)
	}
}

func TestPositionLifecycleOverHTTP(t *testing.T) {
	router, h := newTestServer(t)

	founder := uuid.New().String()
	postJSON(t, router, "/v1/deposit/initiate", map[string]interface{}{
		"user": founder, "amount": e18(10_000).Dec(), "timestamp": startTime,
	}, nil)
	postJSON(t, router, "/v1/deposit/validate", map[string]interface{}{
		"user": founder, "timestamp": startTime,
	}, nil)

	trader := uuid.New().String()
	rec := postJSON(t, router, "/v1/position/open/initiate", map[string]interface{}{
		"user":              trader,
		"amount":            e18(100).Dec(),
		"desired_liq_price": e18(1000).Dec(),
		"timestamp":         startTime,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("initiate open status = %d, body %s", rec.Code, rec.Body)
	}
	rec = postJSON(t, router, "/v1/position/open/validate", map[string]interface{}{
		"user": trader, "timestamp": startTime,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("validate open status = %d, body %s", rec.Code, rec.Body)
	}

	tick := h.Engine.Book().HighestPopulatedTick()
	var tickResp query.TickResponse
	if rec := getJSON(t, router, fmt.Sprintf("/v1/tick/%d", tick), &tickResp); rec.Code != http.StatusOK {
		t.Fatalf("tick query status = %d", rec.Code)
	}
	if tickResp.TotalPositions != 1 {
		t.Errorf("tick positions = %d, want 1", tickResp.TotalPositions)
	}

	var posResp query.PositionResponse
	path := fmt.Sprintf("/v1/position/%d/%d/%d", tick, h.Engine.Book().TickVersion(tick), 0)
	if rec := getJSON(t, router, path, &posResp); rec.Code != http.StatusOK {
		t.Fatalf("position query status = %d", rec.Code)
	}
	if posResp.User != trader {
		t.Errorf("position user = %s, want %s", posResp.User, trader)
	}

	// Unknown handle -> 404.
	if rec := getJSON(t, router, fmt.Sprintf("/v1/position/%d/%d/%d", tick, 99, 0), nil); rec.Code != http.StatusNotFound {
		t.Errorf("stale position query status = %d, want 404", rec.Code)
	}
}

func TestPendingQueryAndAdminPrice(t *testing.T) {
	router, h := newTestServer(t)
	user := uuid.New().String()

	postJSON(t, router, "/v1/deposit/initiate", map[string]interface{}{
		"user": user, "amount": e18(100).Dec(), "timestamp": startTime,
	}, nil)

	var pending query.PendingResponse
	if rec := getJSON(t, router, "/v1/pending/"+user, &pending); rec.Code != http.StatusOK {
		t.Fatalf("pending query status = %d", rec.Code)
	}
	if pending.Kind != "deposit" {
		t.Errorf("pending kind = %s, want deposit", pending.Kind)
	}

	if rec := getJSON(t, router, "/v1/pending/"+uuid.New().String(), nil); rec.Code != http.StatusNotFound {
		t.Errorf("pending for unknown user status = %d, want 404", rec.Code)
	}

	// The price admin endpoint moves the injected feed.
	rec := postJSON(t, router, "/v1/admin/price", map[string]interface{}{
		"price":     e18(2100).Dec(),
		"timestamp": startTime + 60,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("set price status = %d, body %s", rec.Code, rec.Body)
	}
	info, err := h.Oracle.GetPrice(oracle.ActionLiquidation, startTime+60, nil)
	if err != nil {
		t.Fatalf("oracle read: %v", err)
	}
	if !info.Price.Eq(e18(2100)) || info.Timestamp != startTime+60 {
		t.Errorf("oracle = %s @ %d, want %s @ %d", info.Price, info.Timestamp, e18(2100), startTime+60)
	}

	if rec := postJSON(t, router, "/v1/admin/price", map[string]interface{}{"price": "0"}, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("zero price status = %d, want 400", rec.Code)
	}
}

func TestHealthAndIntegrityEndpoints(t *testing.T) {
	router, _ := newTestServer(t)

	if rec := getJSON(t, router, "/healthz", nil); rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d", rec.Code)
	}
	if rec := getJSON(t, router, "/readyz", nil); rec.Code != http.StatusOK {
		t.Errorf("readyz status = %d", rec.Code)
	}

	// Without a database the integrity report is trivially healthy.
	var report query.IntegrityReport
	if rec := getJSON(t, router, "/v1/admin/integrity", &report); rec.Code != http.StatusOK {
		t.Fatalf("integrity status = %d", rec.Code)
	}
	if !report.IsHealthy {
		t.Error("integrity report not healthy")
	}
}
