package orders

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lmdrive/drive-backend/api/middleware"
	internalorders "github.com/lmdrive/drive-backend/internal/orders"
	"github.com/lmdrive/drive-backend/pkg/enums"
	pkgerrors "github.com/lmdrive/drive-backend/pkg/errors"
)

type stubOrderService struct {
	create     func(ctx context.Context, actor internalorders.Actor, storeID uuid.UUID) (*internalorders.OrderView, error)
	get        func(ctx context.Context, actor internalorders.Actor, orderID uuid.UUID) (*internalorders.OrderView, error)
	list       func(ctx context.Context, actor internalorders.Actor, params internalorders.ListParams) (*internalorders.ListResult, error)
	addLine    func(ctx context.Context, actor internalorders.Actor, orderID, productID uuid.UUID, quantity int) (*internalorders.LineResult, error)
	updateLine func(ctx context.Context, actor internalorders.Actor, orderID, productID uuid.UUID, quantity int) (*internalorders.LineResult, error)
}

func (s *stubOrderService) Create(ctx context.Context, actor internalorders.Actor, storeID uuid.UUID) (*internalorders.OrderView, error) {
	return s.create(ctx, actor, storeID)
}

func (s *stubOrderService) Get(ctx context.Context, actor internalorders.Actor, orderID uuid.UUID) (*internalorders.OrderView, error) {
	return s.get(ctx, actor, orderID)
}

func (s *stubOrderService) List(ctx context.Context, actor internalorders.Actor, params internalorders.ListParams) (*internalorders.ListResult, error) {
	return s.list(ctx, actor, params)
}

func (s *stubOrderService) AddOrCombineLine(ctx context.Context, actor internalorders.Actor, orderID, productID uuid.UUID, quantity int) (*internalorders.LineResult, error) {
	return s.addLine(ctx, actor, orderID, productID, quantity)
}

func (s *stubOrderService) UpdateLineQuantity(ctx context.Context, actor internalorders.Actor, orderID, productID uuid.UUID, quantity int) (*internalorders.LineResult, error) {
	return s.updateLine(ctx, actor, orderID, productID, quantity)
}

func (s *stubOrderService) RemoveLine(ctx context.Context, actor internalorders.Actor, orderID, productID uuid.UUID) (*internalorders.OrderView, error) {
	panic("not implemented")
}

func (s *stubOrderService) Delete(ctx context.Context, actor internalorders.Actor, orderID uuid.UUID) error {
	panic("not implemented")
}

type stubTransitioner struct {
	target enums.OrderStatus
	err    error
}

func (s *stubTransitioner) Transition(ctx context.Context, orderID uuid.UUID, target enums.OrderStatus, actor internalorders.Actor) (*internalorders.OrderView, error) {
	s.target = target
	if s.err != nil {
		return nil, s.err
	}
	return &internalorders.OrderView{ID: orderID, Status: target}, nil
}

func withActor(req *http.Request, userID uuid.UUID, role enums.ActorRole) *http.Request {
	return req.WithContext(middleware.WithIdentity(req.Context(), middleware.Identity{UserID: userID, Role: role}))
}

func withURLParams(req *http.Request, params map[string]string) *http.Request {
	ctx := chi.NewRouteContext()
	for k, v := range params {
		ctx.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, ctx))
}

func TestCreateOrder(t *testing.T) {
	customerID := uuid.New()
	storeID := uuid.New()
	svc := &stubOrderService{
		create: func(ctx context.Context, actor internalorders.Actor, incoming uuid.UUID) (*internalorders.OrderView, error) {
			if actor.UserID != customerID || actor.Role != enums.ActorRoleCustomer {
				t.Fatalf("unexpected actor %+v", actor)
			}
			if incoming != storeID {
				t.Fatalf("unexpected store id %s", incoming)
			}
			return &internalorders.OrderView{ID: uuid.New(), StoreID: incoming, Status: enums.OrderStatusPending}, nil
		},
	}

	body := `{"store_id":"` + storeID.String() + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(body))
	req = withActor(req, customerID, enums.ActorRoleCustomer)
	resp := httptest.NewRecorder()
	Create(svc, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d (%s)", resp.Code, resp.Body.String())
	}

	var envelope struct {
		Data internalorders.OrderView `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.Status != enums.OrderStatusPending {
		t.Fatalf("unexpected status %s", envelope.Data.Status)
	}
}

func TestCreateOrderRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(`{"store_id":"`+uuid.NewString()+`","total":"1"}`))
	req = withActor(req, uuid.New(), enums.ActorRoleCustomer)
	resp := httptest.NewRecorder()
	Create(&stubOrderService{}, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestCreateOrderRequiresActor(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(`{"store_id":"`+uuid.NewString()+`"}`))
	resp := httptest.NewRecorder()
	Create(&stubOrderService{}, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestListParsesFilters(t *testing.T) {
	svc := &stubOrderService{
		list: func(ctx context.Context, actor internalorders.Actor, params internalorders.ListParams) (*internalorders.ListResult, error) {
			if params.Limit != 5 {
				t.Fatalf("unexpected limit %d", params.Limit)
			}
			if params.Cursor != "abc" {
				t.Fatalf("unexpected cursor %q", params.Cursor)
			}
			if params.Status == nil || *params.Status != enums.OrderStatusConfirmed {
				t.Fatalf("status not parsed")
			}
			return &internalorders.ListResult{Orders: []internalorders.OrderView{{ID: uuid.New()}}, NextCursor: "next"}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders?limit=5&cursor=abc&status=confirmed", nil)
	req = withActor(req, uuid.New(), enums.ActorRoleStaff)
	resp := httptest.NewRecorder()
	List(svc, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d (%s)", resp.Code, resp.Body.String())
	}

	var envelope struct {
		Data internalorders.ListResult `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(envelope.Data.Orders) != 1 || envelope.Data.NextCursor != "next" {
		t.Fatalf("unexpected list %+v", envelope.Data)
	}
}

func TestListRejectsUnknownStatus(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders?status=shipped", nil)
	req = withActor(req, uuid.New(), enums.ActorRoleStaff)
	resp := httptest.NewRecorder()
	List(&stubOrderService{}, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestDetailMapsNotFound(t *testing.T) {
	orderID := uuid.New()
	svc := &stubOrderService{
		get: func(ctx context.Context, actor internalorders.Actor, incoming uuid.UUID) (*internalorders.OrderView, error) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/"+orderID.String(), nil)
	req = withURLParams(req, map[string]string{"orderId": orderID.String()})
	req = withActor(req, uuid.New(), enums.ActorRoleCustomer)
	resp := httptest.NewRecorder()
	Detail(svc, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}

func TestDetailRejectsBadOrderID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/nope", nil)
	req = withURLParams(req, map[string]string{"orderId": "nope"})
	req = withActor(req, uuid.New(), enums.ActorRoleCustomer)
	resp := httptest.NewRecorder()
	Detail(&stubOrderService{}, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestAddLineReturnsStockWarning(t *testing.T) {
	orderID := uuid.New()
	productID := uuid.New()
	warning := enums.StockWarningInsufficient
	svc := &stubOrderService{
		addLine: func(ctx context.Context, actor internalorders.Actor, incomingOrder, incomingProduct uuid.UUID, quantity int) (*internalorders.LineResult, error) {
			if incomingOrder != orderID || incomingProduct != productID || quantity != 3 {
				t.Fatalf("unexpected line input %s %s %d", incomingOrder, incomingProduct, quantity)
			}
			return &internalorders.LineResult{Order: internalorders.OrderView{ID: orderID}, StockWarning: &warning}, nil
		},
	}

	body := `{"product_id":"` + productID.String() + `","quantity":3}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/"+orderID.String()+"/lines", strings.NewReader(body))
	req = withURLParams(req, map[string]string{"orderId": orderID.String()})
	req = withActor(req, uuid.New(), enums.ActorRoleCustomer)
	resp := httptest.NewRecorder()
	AddLine(svc, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d (%s)", resp.Code, resp.Body.String())
	}

	var envelope struct {
		Data internalorders.LineResult `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.StockWarning == nil || *envelope.Data.StockWarning != enums.StockWarningInsufficient {
		t.Fatalf("expected stock warning in response")
	}
}

func TestAddLineRejectsZeroQuantity(t *testing.T) {
	orderID := uuid.New()
	body := `{"product_id":"` + uuid.NewString() + `","quantity":0}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/"+orderID.String()+"/lines", strings.NewReader(body))
	req = withURLParams(req, map[string]string{"orderId": orderID.String()})
	req = withActor(req, uuid.New(), enums.ActorRoleCustomer)
	resp := httptest.NewRecorder()
	AddLine(&stubOrderService{}, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestUpdateLinePassesQuantity(t *testing.T) {
	orderID := uuid.New()
	productID := uuid.New()
	svc := &stubOrderService{
		updateLine: func(ctx context.Context, actor internalorders.Actor, incomingOrder, incomingProduct uuid.UUID, quantity int) (*internalorders.LineResult, error) {
			if incomingProduct != productID || quantity != 7 {
				t.Fatalf("unexpected update %s %d", incomingProduct, quantity)
			}
			return &internalorders.LineResult{Order: internalorders.OrderView{ID: incomingOrder}}, nil
		},
	}

	req := httptest.NewRequest(http.MethodPatch, "/", strings.NewReader(`{"quantity":7}`))
	req = withURLParams(req, map[string]string{"orderId": orderID.String(), "productId": productID.String()})
	req = withActor(req, uuid.New(), enums.ActorRoleCustomer)
	resp := httptest.NewRecorder()
	UpdateLine(svc, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d (%s)", resp.Code, resp.Body.String())
	}
}

func TestTransitionParsesTarget(t *testing.T) {
	orderID := uuid.New()
	coord := &stubTransitioner{}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"status":"Ready"}`))
	req = withURLParams(req, map[string]string{"orderId": orderID.String()})
	req = withActor(req, uuid.New(), enums.ActorRoleStaff)
	resp := httptest.NewRecorder()
	Transition(coord, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d (%s)", resp.Code, resp.Body.String())
	}
	if coord.target != enums.OrderStatusReady {
		t.Fatalf("unexpected target %s", coord.target)
	}
}

func TestTransitionMapsIllegalMove(t *testing.T) {
	orderID := uuid.New()
	coord := &stubTransitioner{err: pkgerrors.InvalidStatusTransition("fulfilled", "pending")}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"status":"pending"}`))
	req = withURLParams(req, map[string]string{"orderId": orderID.String()})
	req = withActor(req, uuid.New(), enums.ActorRoleStaff)
	resp := httptest.NewRecorder()
	Transition(coord, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", resp.Code)
	}
}
