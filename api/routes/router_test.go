package routes

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stripe/stripe-go/v84"

	"github.com/lmdrive/drive-backend/internal/checkout"
	internalorders "github.com/lmdrive/drive-backend/internal/orders"
	internalpayments "github.com/lmdrive/drive-backend/internal/payments"
	internalstock "github.com/lmdrive/drive-backend/internal/stock"
	pkgAuth "github.com/lmdrive/drive-backend/pkg/auth"
	"github.com/lmdrive/drive-backend/pkg/config"
	"github.com/lmdrive/drive-backend/pkg/enums"
	"github.com/lmdrive/drive-backend/pkg/logger"
	"github.com/lmdrive/drive-backend/pkg/metrics"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error {
	return nil
}

type memoryRedis struct {
	mu       sync.Mutex
	data     map[string]string
	counters map[string]int64
}

func newMemoryRedis() *memoryRedis {
	return &memoryRedis{data: map[string]string{}, counters: map[string]int64{}}
}

func (m *memoryRedis) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *memoryRedis) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = fmt.Sprint(value)
	return true, nil
}

func (m *memoryRedis) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = fmt.Sprint(value)
	return nil
}

func (m *memoryRedis) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memoryRedis) IdempotencyKey(scope, id string) string { return "idem:" + scope + ":" + id }
func (m *memoryRedis) CounterKey(name string) string          { return "counter:" + name }
func (m *memoryRedis) Ping(context.Context) error             { return nil }

func (m *memoryRedis) Incr(_ context.Context, key string, _ time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[key]++
	return m.counters[key], nil
}

type stubOrders struct {
	creates int
}

func (s *stubOrders) Create(ctx context.Context, actor internalorders.Actor, storeID uuid.UUID) (*internalorders.OrderView, error) {
	s.creates++
	return &internalorders.OrderView{ID: uuid.New(), CustomerID: actor.UserID, StoreID: storeID, Status: enums.OrderStatusPending}, nil
}

func (s *stubOrders) Get(ctx context.Context, actor internalorders.Actor, orderID uuid.UUID) (*internalorders.OrderView, error) {
	return &internalorders.OrderView{ID: orderID}, nil
}

func (s *stubOrders) List(ctx context.Context, actor internalorders.Actor, params internalorders.ListParams) (*internalorders.ListResult, error) {
	return &internalorders.ListResult{}, nil
}

func (s *stubOrders) AddOrCombineLine(ctx context.Context, actor internalorders.Actor, orderID, productID uuid.UUID, quantity int) (*internalorders.LineResult, error) {
	return &internalorders.LineResult{}, nil
}

func (s *stubOrders) UpdateLineQuantity(ctx context.Context, actor internalorders.Actor, orderID, productID uuid.UUID, quantity int) (*internalorders.LineResult, error) {
	return &internalorders.LineResult{}, nil
}

func (s *stubOrders) RemoveLine(ctx context.Context, actor internalorders.Actor, orderID, productID uuid.UUID) (*internalorders.OrderView, error) {
	return &internalorders.OrderView{ID: orderID}, nil
}

func (s *stubOrders) Delete(ctx context.Context, actor internalorders.Actor, orderID uuid.UUID) error {
	return nil
}

type stubTransitions struct{}

func (stubTransitions) Transition(ctx context.Context, orderID uuid.UUID, target enums.OrderStatus, actor internalorders.Actor) (*internalorders.OrderView, error) {
	return &internalorders.OrderView{ID: orderID, Status: target}, nil
}

type stubCheckout struct{}

func (stubCheckout) Charge(ctx context.Context, actor internalorders.Actor, orderID uuid.UUID, input checkout.ChargeInput) (*checkout.ChargeResult, error) {
	return &checkout.ChargeResult{Order: internalorders.OrderView{ID: orderID}}, nil
}

func (stubCheckout) ListPayments(ctx context.Context, actor internalorders.Actor, orderID uuid.UUID) ([]internalpayments.AttemptView, error) {
	return nil, nil
}

type stubStock struct{}

func (stubStock) Record(ctx context.Context, storeID, productID uuid.UUID) (*internalstock.Record, error) {
	return &internalstock.Record{StoreID: storeID, ProductID: productID}, nil
}

func (stubStock) Summary(ctx context.Context, productID uuid.UUID) (*internalstock.Summary, error) {
	return &internalstock.Summary{ProductID: productID}, nil
}

func (stubStock) SetStock(ctx context.Context, input internalstock.SetStockInput) (*internalstock.Record, error) {
	return &internalstock.Record{StoreID: input.StoreID, ProductID: input.ProductID, QuantityOnHand: input.Quantity}, nil
}

func (stubStock) Restock(ctx context.Context, storeID, productID uuid.UUID, quantity int) error {
	return nil
}

type stubStripeEvents struct{}

func (stubStripeEvents) HandleEvent(ctx context.Context, event *stripe.Event) error { return nil }

type stubSigner struct{}

func (stubSigner) SigningSecret() string { return "whsec_test" }

type stubDedupe struct{}

func (stubDedupe) Claim(ctx context.Context, eventID string) (bool, error) { return true, nil }
func (stubDedupe) Release(ctx context.Context, eventID string) error       { return nil }

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test"},
		JWT: config.JWTConfig{Secret: "router-secret", Issuer: "drive-accounts"},
		RateLimit: config.RateLimitConfig{
			ChargeWindow: time.Minute,
			ChargeLimit:  2,
		},
	}
}

type testRouter struct {
	handler http.Handler
	orders  *stubOrders
}

func newTestRouter(cfg *config.Config) testRouter {
	orders := &stubOrders{}
	reg := prometheus.NewRegistry()
	handler := NewRouter(RouterParams{
		Config:       cfg,
		Logger:       logger.Nop(),
		DB:           stubPinger{},
		Redis:        newMemoryRedis(),
		HTTPMetrics:  metrics.NewHTTPMetrics(reg),
		Gatherer:     reg,
		Orders:       orders,
		Transitions:  stubTransitions{},
		Checkout:     stubCheckout{},
		Stock:        stubStock{},
		StripeEvents: stubStripeEvents{},
		StripeClient: stubSigner{},
		StripeDedupe: stubDedupe{},
	})
	return testRouter{handler: handler, orders: orders}
}

func buildToken(t *testing.T, cfg *config.Config, role enums.ActorRole) string {
	t.Helper()
	token, err := pkgAuth.Issue(cfg.JWT, time.Now(), pkgAuth.Grant{
		UserID: uuid.New(),
		Role:   role,
		TTL:    time.Hour,
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func serve(router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestHealthRoutesArePublic(t *testing.T) {
	router := newTestRouter(testConfig())
	for _, path := range []string{"/health/live", "/health/ready"} {
		resp := serve(router.handler, httptest.NewRequest(http.MethodGet, path, nil))
		if resp.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 got %d", path, resp.Code)
		}
	}
}

func TestMetricsEndpointExposesHTTPMetrics(t *testing.T) {
	router := newTestRouter(testConfig())
	serve(router.handler, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	resp := serve(router.handler, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "/health/live") {
		t.Fatalf("expected route label in metrics output")
	}
}

func TestAPIRejectsMissingJWT(t *testing.T) {
	router := newTestRouter(testConfig())
	resp := serve(router.handler, httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token got %d", resp.Code)
	}
}

func TestCreateOrderRequiresIdempotencyKeyAndReplays(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg)
	token := buildToken(t, cfg, enums.ActorRoleCustomer)
	body := `{"store_id":"` + uuid.NewString() + `"}`

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	if resp := serve(router.handler, req); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without idempotency key got %d", resp.Code)
	}

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Idempotency-Key", "create-1")
		resp := serve(router.handler, req)
		if resp.Code != http.StatusCreated {
			t.Fatalf("attempt %d: expected 201 got %d (%s)", i, resp.Code, resp.Body.String())
		}
	}
	if router.orders.creates != 1 {
		t.Fatalf("expected one create, got %d", router.orders.creates)
	}
}

func TestStaffOnlyRoutes(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg)
	path := "/api/v1/stores/" + uuid.NewString() + "/stock/" + uuid.NewString()

	req := httptest.NewRequest(http.MethodPut, path, strings.NewReader(`{"quantity":4}`))
	req.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.ActorRoleCustomer))
	if resp := serve(router.handler, req); resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for customer got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodPut, path, strings.NewReader(`{"quantity":4}`))
	req.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.ActorRoleStaff))
	if resp := serve(router.handler, req); resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for staff got %d (%s)", resp.Code, resp.Body.String())
	}
}

func TestChargeIsRateLimited(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg)
	token := buildToken(t, cfg, enums.ActorRoleCustomer)
	path := "/api/v1/orders/" + uuid.NewString() + "/payments"

	var last int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"payment_method_id":"pm_1"}`))
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Idempotency-Key", fmt.Sprintf("charge-%d", i))
		last = serve(router.handler, req).Code
		if i < 2 && last != http.StatusCreated {
			t.Fatalf("attempt %d: expected 201 got %d", i, last)
		}
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after limit got %d", last)
	}
}

func TestChargeForbiddenForStaff(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/"+uuid.NewString()+"/payments", strings.NewReader(`{"payment_method_id":"pm_1"}`))
	req.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.ActorRoleStaff))
	req.Header.Set("Idempotency-Key", "staff-charge")
	if resp := serve(router.handler, req); resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", resp.Code)
	}
}
