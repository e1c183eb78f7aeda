package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/memento-mori/internal/lifecycle"
	"github.com/mmeshcher/memento-mori/internal/middleware"
	"github.com/mmeshcher/memento-mori/internal/model"
	"github.com/mmeshcher/memento-mori/internal/pricing"
	"github.com/mmeshcher/memento-mori/internal/repository"
	"github.com/mmeshcher/memento-mori/internal/service"
)

type stubService struct {
	order    *model.Order
	orderErr error

	lastRequester model.Requester
	lastCreate    model.CreateOrderInput
	lastStatus    model.OrderStatus
	lastFilter    model.OrderFilter
	lastSummary   model.SummaryFilter

	page    *model.OrderPage
	pageErr error

	summary    *model.FinancialSummary
	summaryErr error

	services   []model.Service
	serviceErr error
}

func (s *stubService) CreateOrder(ctx context.Context, r model.Requester, in model.CreateOrderInput) (*model.Order, error) {
	s.lastRequester, s.lastCreate = r, in
	return s.order, s.orderErr
}

func (s *stubService) GetOrder(ctx context.Context, r model.Requester, id string) (*model.Order, error) {
	s.lastRequester = r
	return s.order, s.orderErr
}

func (s *stubService) GetOrderByNumber(ctx context.Context, r model.Requester, number string) (*model.Order, error) {
	s.lastRequester = r
	return s.order, s.orderErr
}

func (s *stubService) UpdateOrderStatus(ctx context.Context, r model.Requester, id string, to model.OrderStatus) (*model.Order, error) {
	s.lastRequester, s.lastStatus = r, to
	return s.order, s.orderErr
}

func (s *stubService) UpdateOrderDetails(ctx context.Context, r model.Requester, id string, upd model.OrderDetailsUpdate) (*model.Order, error) {
	s.lastRequester = r
	return s.order, s.orderErr
}

func (s *stubService) ListOrders(ctx context.Context, r model.Requester, f model.OrderFilter) (*model.OrderPage, error) {
	s.lastRequester, s.lastFilter = r, f
	return s.page, s.pageErr
}

func (s *stubService) FinancialSummary(ctx context.Context, r model.Requester, f model.SummaryFilter) (*model.FinancialSummary, error) {
	s.lastRequester, s.lastSummary = r, f
	return s.summary, s.summaryErr
}

func (s *stubService) CreateService(ctx context.Context, r model.Requester, in model.CreateServiceInput) (*model.Service, error) {
	if s.serviceErr != nil {
		return nil, s.serviceErr
	}
	return &model.Service{ID: "svc-1", VendorID: r.ID, Name: in.Name, Price: in.Price, Status: model.ServiceStatusActive}, nil
}

func (s *stubService) ListServices(ctx context.Context, r model.Requester, vendorID string, includeInactive bool) ([]model.Service, error) {
	return s.services, s.serviceErr
}

func (s *stubService) UpdateServiceStatus(ctx context.Context, r model.Requester, id string, status model.ServiceStatus) (*model.Service, error) {
	if s.serviceErr != nil {
		return nil, s.serviceErr
	}
	return &model.Service{ID: id, Status: status, Price: decimal.Zero}, nil
}

type testServer struct {
	router http.Handler
	auth   *middleware.AuthMiddleware
}

func newTestServer(t *testing.T, svc Service) *testServer {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAuthMiddleware("test-secret")
	h := NewHandler(svc, logger, auth)

	return &testServer{router: h.SetupRouter(), auth: auth}
}

func (ts *testServer) do(t *testing.T, who *model.Requester, method, target string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, target, &buf)
	if who != nil {
		token, err := ts.auth.IssueToken(*who, time.Hour)
		if err != nil {
			t.Fatalf("issue token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec.Result()
}

func decode[T any](t *testing.T, res *http.Response) T {
	t.Helper()
	defer res.Body.Close()

	var v T
	if err := json.NewDecoder(res.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

var (
	client = &model.Requester{ID: "client-1", Role: model.RoleClient}
	vendor = &model.Requester{ID: "vendor-1", Role: model.RoleVendor}
	admin  = &model.Requester{ID: "admin-1", Role: model.RoleAdmin}
)

func sampleOrder() *model.Order {
	created := time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)
	return &model.Order{
		ID:       "order-1",
		Number:   "ORD-2026-000042",
		ClientID: "client-1",
		Items: []model.OrderItem{
			{ID: "i1", ServiceID: "coffin", VendorID: "vendor-1", ServiceName: "Oak coffin", Quantity: 1,
				UnitPrice: decimal.RequireFromString("150"), LineTotal: decimal.RequireFromString("150")},
			{ID: "i2", ServiceID: "flowers", VendorID: "vendor-2", ServiceName: "Wreath", Quantity: 1,
				UnitPrice: decimal.RequireFromString("50"), LineTotal: decimal.RequireFromString("50")},
		},
		Subtotal:  decimal.RequireFromString("200"),
		Tax:       decimal.RequireFromString("38"),
		Total:     decimal.RequireFromString("238"),
		Currency:  "EUR",
		Status:    model.OrderStatusPending,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestCreateOrder_Created(t *testing.T) {
	svc := &stubService{order: sampleOrder()}
	ts := newTestServer(t, svc)

	res := ts.do(t, client, http.MethodPost, "/api/orders", map[string]any{
		"items": []map[string]any{
			{"serviceId": "coffin", "quantity": 1},
			{"serviceId": "flowers", "quantity": 1},
		},
		"notes": "ceremony at noon",
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusCreated)
	}

	got := decode[orderResponse](t, res)
	if got.Subtotal != "200.00" || got.Tax != "38.00" || got.Total != "238.00" {
		t.Fatalf("totals = %s/%s/%s", got.Subtotal, got.Tax, got.Total)
	}
	if got.Number != "ORD-2026-000042" || got.Status != "PENDING" || got.CreatedAt != "2026-10-15T09:30:00Z" {
		t.Fatalf("unexpected order response: %+v", got)
	}
	if got.Items[0].UnitPrice != "150.00" {
		t.Fatalf("unit price = %s, want 150.00", got.Items[0].UnitPrice)
	}

	if svc.lastRequester != *client {
		t.Fatalf("requester = %+v, want %+v", svc.lastRequester, *client)
	}
	if len(svc.lastCreate.Items) != 2 || svc.lastCreate.Items[0].ServiceID != "coffin" || svc.lastCreate.Notes != "ceremony at noon" {
		t.Fatalf("create input = %+v", svc.lastCreate)
	}
}

func TestCreateOrder_InvalidItems(t *testing.T) {
	svc := &stubService{orderErr: &pricing.LineItemsError{Missing: []string{"ghost"}}}
	ts := newTestServer(t, svc)

	res := ts.do(t, client, http.MethodPost, "/api/orders", map[string]any{
		"items": []map[string]any{{"serviceId": "ghost", "quantity": 1}},
	})
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnprocessableEntity)
	}

	got := decode[errorResponse](t, res)
	if len(got.Missing) != 1 || got.Missing[0] != "ghost" {
		t.Fatalf("missing = %v, want [ghost]", got.Missing)
	}
}

func TestCreateOrder_InvalidQuantity(t *testing.T) {
	svc := &stubService{orderErr: &pricing.LineItemsError{InvalidQuantity: []string{"coffin"}}}
	ts := newTestServer(t, svc)

	res := ts.do(t, client, http.MethodPost, "/api/orders", map[string]any{
		"items": []map[string]any{{"serviceId": "coffin", "quantity": 100000}},
	})
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnprocessableEntity)
	}

	got := decode[errorResponse](t, res)
	if len(got.InvalidQuantity) != 1 || got.InvalidQuantity[0] != "coffin" {
		t.Fatalf("invalidQuantity = %v, want [coffin]", got.InvalidQuantity)
	}
	if len(got.Missing) != 0 || len(got.Inactive) != 0 {
		t.Fatalf("unexpected ids in body: %+v", got)
	}
}

func TestCreateOrder_AmountOutOfRange(t *testing.T) {
	svc := &stubService{orderErr: fmt.Errorf("%w: 1e20", repository.ErrAmountOutOfRange)}
	ts := newTestServer(t, svc)

	res := ts.do(t, client, http.MethodPost, "/api/orders", map[string]any{
		"items": []map[string]any{{"serviceId": "coffin", "quantity": 1}},
	})
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnprocessableEntity)
	}
}

func TestCreateOrder_MalformedBody(t *testing.T) {
	ts := newTestServer(t, &stubService{})

	token, _ := ts.auth.IssueToken(*client, time.Hour)
	req := httptest.NewRequest(http.MethodPost, "/api/orders", bytes.NewBufferString("{"))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestRoutes_RequireToken(t *testing.T) {
	ts := newTestServer(t, &stubService{order: sampleOrder()})

	res := ts.do(t, nil, http.MethodGet, "/api/orders/order-1", nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
}

func TestMetrics_Public(t *testing.T) {
	ts := newTestServer(t, &stubService{})

	res := ts.do(t, nil, http.MethodGet, "/metrics", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "not found", err: repository.ErrOrderNotFound, want: http.StatusNotFound},
		{name: "forbidden", err: &lifecycle.ForbiddenError{Reason: "client may only cancel"}, want: http.StatusForbidden},
		{name: "bad transition", err: &lifecycle.TransitionError{From: model.OrderStatusCompleted, To: model.OrderStatusCancelled}, want: http.StatusConflict},
		{name: "concurrent update", err: repository.ErrConcurrentUpdate, want: http.StatusConflict},
		{name: "duplicate number", err: fmt.Errorf("%w: ORD-2026-000001", repository.ErrDuplicateOrderNumber), want: http.StatusConflict},
		{name: "immutable", err: lifecycle.ErrOrderImmutable, want: http.StatusConflict},
		{name: "invalid input", err: service.ErrInvalidInput, want: http.StatusBadRequest},
		{name: "internal", err: context.DeadlineExceeded, want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, &stubService{orderErr: tt.err})

			res := ts.do(t, vendor, http.MethodPatch, "/api/orders/order-1/status", map[string]string{"status": "CANCELLED"})
			if res.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", res.StatusCode, tt.want)
			}
			body := decode[errorResponse](t, res)
			if body.Error == "" {
				t.Fatalf("empty error body")
			}
		})
	}
}

func TestUpdateOrderStatus_TransitionDetails(t *testing.T) {
	svc := &stubService{orderErr: &lifecycle.TransitionError{From: model.OrderStatusCompleted, To: model.OrderStatusCancelled}}
	ts := newTestServer(t, svc)

	res := ts.do(t, admin, http.MethodPatch, "/api/orders/order-1/status", map[string]string{"status": "CANCELLED"})
	got := decode[errorResponse](t, res)
	if got.From != "COMPLETED" || got.To != "CANCELLED" {
		t.Fatalf("from/to = %s/%s, want COMPLETED/CANCELLED", got.From, got.To)
	}
	if svc.lastStatus != model.OrderStatusCancelled {
		t.Fatalf("requested status = %s, want CANCELLED", svc.lastStatus)
	}
}

func TestUpdateOrderStatus_UnknownStatus(t *testing.T) {
	ts := newTestServer(t, &stubService{order: sampleOrder()})

	res := ts.do(t, admin, http.MethodPatch, "/api/orders/order-1/status", map[string]string{"status": "BURIED"})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestUpdateOrderStatus_RendersSettlement(t *testing.T) {
	o := sampleOrder()
	completed := time.Date(2026, 10, 16, 14, 0, 0, 0, time.UTC)
	o.Status = model.OrderStatusCompleted
	o.CompletedAt = &completed
	o.Settlement = &model.Settlement{
		OrderID:      o.ID,
		Amount:       decimal.RequireFromString("238"),
		PlatformFee:  decimal.RequireFromString("23.8"),
		ProcessorFee: decimal.RequireFromString("6.9"),
		VendorPayout: decimal.RequireFromString("207.3"),
		Status:       model.SettlementStatusCompleted,
		PaidAt:       completed,
	}
	ts := newTestServer(t, &stubService{order: o})

	res := ts.do(t, vendor, http.MethodPatch, "/api/orders/order-1/status", map[string]string{"status": "COMPLETED"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	got := decode[orderResponse](t, res)
	if got.CompletedAt == nil || *got.CompletedAt != "2026-10-16T14:00:00Z" {
		t.Fatalf("completedAt = %v", got.CompletedAt)
	}
	s := got.Settlement
	if s == nil || s.PlatformFee != "23.80" || s.ProcessorFee != "6.90" || s.VendorPayout != "207.30" {
		t.Fatalf("settlement = %+v", s)
	}
}

func TestListOrders_PassesFilter(t *testing.T) {
	svc := &stubService{page: &model.OrderPage{
		Orders:     []model.Order{*sampleOrder()},
		Pagination: model.Pagination{Page: 2, Limit: 5, Total: 6, TotalPages: 2},
	}}
	ts := newTestServer(t, svc)

	res := ts.do(t, vendor, http.MethodGet, "/api/orders?status=PENDING&page=2&limit=5&clientId=client-1", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	got := decode[orderListResponse](t, res)
	if len(got.Orders) != 1 || got.Pagination.TotalPages != 2 || got.Pagination.Total != 6 {
		t.Fatalf("unexpected list response: %+v", got)
	}

	want := model.OrderFilter{Status: model.OrderStatusPending, ClientID: "client-1", Page: 2, Limit: 5}
	if svc.lastFilter != want {
		t.Fatalf("filter = %+v, want %+v", svc.lastFilter, want)
	}
}

func TestListOrders_BadQuery(t *testing.T) {
	ts := newTestServer(t, &stubService{})

	for _, target := range []string{"/api/orders?page=abc", "/api/orders?limit=-1", "/api/orders?status=LOST"} {
		res := ts.do(t, admin, http.MethodGet, target, nil)
		if res.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want %d", target, res.StatusCode, http.StatusBadRequest)
		}
	}
}

func TestFinancialSummary_JSON(t *testing.T) {
	svc := &stubService{summary: &model.FinancialSummary{
		TotalRevenue:       decimal.RequireFromString("476"),
		TotalPlatformFees:  decimal.RequireFromString("47.6"),
		TotalProcessorFees: decimal.RequireFromString("13.8"),
		TotalPayouts:       decimal.RequireFromString("414.6"),
		TotalRefunded:      decimal.Zero,
		CompletedOrders:    2,
		AverageOrderValue:  decimal.RequireFromString("238"),
	}}
	ts := newTestServer(t, svc)

	res := ts.do(t, admin, http.MethodGet, "/api/settlements/summary?vendorId=vendor-1&from=2026-01-01T00:00:00Z", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	got := decode[summaryResponse](t, res)
	if got.TotalRevenue != "476.00" || got.TotalPlatformFees != "47.60" || got.TotalRefunded != "0.00" || got.AverageOrderValue != "238.00" {
		t.Fatalf("unexpected summary: %+v", got)
	}
	if svc.lastSummary.VendorID != "vendor-1" || svc.lastSummary.From == nil || svc.lastSummary.To != nil {
		t.Fatalf("summary filter = %+v", svc.lastSummary)
	}

	res = ts.do(t, admin, http.MethodGet, "/api/settlements/summary?from=yesterday", nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestCatalogRoutes(t *testing.T) {
	svc := &stubService{services: []model.Service{
		{ID: "coffin", VendorID: "vendor-1", Name: "Oak coffin", Price: decimal.RequireFromString("150"), Status: model.ServiceStatusActive},
	}}
	ts := newTestServer(t, svc)

	res := ts.do(t, vendor, http.MethodPost, "/api/services", map[string]any{"name": "Urn", "price": "80.50"})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", res.StatusCode, http.StatusCreated)
	}
	created := decode[serviceResponse](t, res)
	if created.Price != "80.50" || created.VendorID != "vendor-1" {
		t.Fatalf("created service = %+v", created)
	}

	res = ts.do(t, client, http.MethodGet, "/api/services?vendorId=vendor-1", nil)
	list := decode[[]serviceResponse](t, res)
	if len(list) != 1 || list[0].Price != "150.00" {
		t.Fatalf("services = %+v", list)
	}

	res = ts.do(t, vendor, http.MethodPatch, "/api/services/coffin/status", map[string]string{"status": "INACTIVE"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status update = %d, want %d", res.StatusCode, http.StatusOK)
	}

	svc.serviceErr = repository.ErrServiceNotFound
	res = ts.do(t, vendor, http.MethodPatch, "/api/services/ghost/status", map[string]string{"status": "INACTIVE"})
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("missing service status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}
