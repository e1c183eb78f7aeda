// Package handler содержит HTTP-обработчики API сервиса заказов.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/memento-mori/internal/lifecycle"
	"github.com/mmeshcher/memento-mori/internal/middleware"
	"github.com/mmeshcher/memento-mori/internal/model"
	"github.com/mmeshcher/memento-mori/internal/pricing"
	"github.com/mmeshcher/memento-mori/internal/repository"
	"github.com/mmeshcher/memento-mori/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateOrder(ctx context.Context, r model.Requester, in model.CreateOrderInput) (*model.Order, error)
	GetOrder(ctx context.Context, r model.Requester, id string) (*model.Order, error)
	GetOrderByNumber(ctx context.Context, r model.Requester, number string) (*model.Order, error)
	UpdateOrderStatus(ctx context.Context, r model.Requester, id string, to model.OrderStatus) (*model.Order, error)
	UpdateOrderDetails(ctx context.Context, r model.Requester, id string, upd model.OrderDetailsUpdate) (*model.Order, error)
	ListOrders(ctx context.Context, r model.Requester, f model.OrderFilter) (*model.OrderPage, error)
	FinancialSummary(ctx context.Context, r model.Requester, f model.SummaryFilter) (*model.FinancialSummary, error)
	CreateService(ctx context.Context, r model.Requester, in model.CreateServiceInput) (*model.Service, error)
	ListServices(ctx context.Context, r model.Requester, vendorID string, includeInactive bool) ([]model.Service, error)
	UpdateServiceStatus(ctx context.Context, r model.Requester, id string, status model.ServiceStatus) (*model.Service, error)
}

// Handler реализует HTTP-обработчики API сервиса заказов.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type errorResponse struct {
	Error           string   `json:"error"`
	Missing         []string `json:"missing,omitempty"`
	Inactive        []string `json:"inactive,omitempty"`
	InvalidQuantity []string `json:"invalidQuantity,omitempty"`
	From            string   `json:"from,omitempty"`
	To              string   `json:"to,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeError сопоставляет ошибку бизнес-логики HTTP-статусу.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := errorResponse{Error: err.Error()}

	var (
		itemsErr      *pricing.LineItemsError
		transitionErr *lifecycle.TransitionError
		status        int
	)
	switch {
	case errors.As(err, &itemsErr):
		status = http.StatusUnprocessableEntity
		resp.Missing = itemsErr.Missing
		resp.Inactive = itemsErr.Inactive
		resp.InvalidQuantity = itemsErr.InvalidQuantity
	case errors.Is(err, pricing.ErrInvalidLineItems),
		errors.Is(err, pricing.ErrNegativePayout),
		errors.Is(err, pricing.ErrNegativeProcessorFee),
		errors.Is(err, repository.ErrAmountOutOfRange):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, repository.ErrOrderNotFound), errors.Is(err, repository.ErrServiceNotFound):
		status = http.StatusNotFound
	case errors.Is(err, lifecycle.ErrForbidden):
		status = http.StatusForbidden
	case errors.As(err, &transitionErr):
		status = http.StatusConflict
		resp.From = string(transitionErr.From)
		resp.To = string(transitionErr.To)
	case errors.Is(err, lifecycle.ErrBadTransition),
		errors.Is(err, lifecycle.ErrOrderImmutable),
		errors.Is(err, repository.ErrDuplicateOrderNumber),
		errors.Is(err, repository.ErrConcurrentUpdate):
		status = http.StatusConflict
	default:
		h.logger.Error("request error", zap.Error(err), zap.String("path", r.URL.Path))
		writeErrorMessage(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	writeJSON(w, status, resp)
}

func requesterFrom(w http.ResponseWriter, r *http.Request) (model.Requester, bool) {
	requester, ok := middleware.GetRequesterFromContext(r.Context())
	if !ok {
		writeErrorMessage(w, http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
	}
	return requester, ok
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

type orderItemResponse struct {
	ID          string `json:"id"`
	ServiceID   string `json:"serviceId"`
	VendorID    string `json:"vendorId"`
	ServiceName string `json:"serviceName"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unitPrice"`
	LineTotal   string `json:"lineTotal"`
	Notes       string `json:"notes,omitempty"`
}

type settlementResponse struct {
	Amount       string  `json:"amount"`
	PlatformFee  string  `json:"platformFee"`
	ProcessorFee string  `json:"processorFee"`
	VendorPayout string  `json:"vendorPayout"`
	Status       string  `json:"status"`
	PaidAt       string  `json:"paidAt"`
	RefundedAt   *string `json:"refundedAt,omitempty"`
}

type orderResponse struct {
	ID            string              `json:"id"`
	Number        string              `json:"orderNumber"`
	ClientID      string              `json:"clientId"`
	Status        string              `json:"status"`
	Items         []orderItemResponse `json:"items"`
	Subtotal      string              `json:"subtotal"`
	Tax           string              `json:"tax"`
	Total         string              `json:"total"`
	Currency      string              `json:"currency"`
	Notes         string              `json:"notes,omitempty"`
	ScheduledDate *string             `json:"scheduledDate,omitempty"`
	CreatedAt     string              `json:"createdAt"`
	UpdatedAt     string              `json:"updatedAt"`
	CompletedAt   *string             `json:"completedAt,omitempty"`
	CancelledAt   *string             `json:"cancelledAt,omitempty"`
	Settlement    *settlementResponse `json:"settlement,omitempty"`
}

func toOrderResponse(o *model.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, orderItemResponse{
			ID:          it.ID,
			ServiceID:   it.ServiceID,
			VendorID:    it.VendorID,
			ServiceName: it.ServiceName,
			Quantity:    it.Quantity,
			UnitPrice:   money(it.UnitPrice),
			LineTotal:   money(it.LineTotal),
			Notes:       it.Notes,
		})
	}

	resp := orderResponse{
		ID:            o.ID,
		Number:        o.Number,
		ClientID:      o.ClientID,
		Status:        string(o.Status),
		Items:         items,
		Subtotal:      money(o.Subtotal),
		Tax:           money(o.Tax),
		Total:         money(o.Total),
		Currency:      o.Currency,
		Notes:         o.Notes,
		ScheduledDate: formatTime(o.ScheduledDate),
		CreatedAt:     o.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     o.UpdatedAt.UTC().Format(time.RFC3339),
		CompletedAt:   formatTime(o.CompletedAt),
		CancelledAt:   formatTime(o.CancelledAt),
	}

	if s := o.Settlement; s != nil {
		resp.Settlement = &settlementResponse{
			Amount:       money(s.Amount),
			PlatformFee:  money(s.PlatformFee),
			ProcessorFee: money(s.ProcessorFee),
			VendorPayout: money(s.VendorPayout),
			Status:       string(s.Status),
			PaidAt:       s.PaidAt.UTC().Format(time.RFC3339),
			RefundedAt:   formatTime(s.RefundedAt),
		}
	}

	return resp
}

type lineItemRequest struct {
	ServiceID string `json:"serviceId"`
	Quantity  int    `json:"quantity"`
	Notes     string `json:"notes"`
}

type createOrderRequest struct {
	ClientID      string            `json:"clientId"`
	Items         []lineItemRequest `json:"items"`
	Notes         string            `json:"notes"`
	ScheduledDate *time.Time        `json:"scheduledDate"`
}

// CreateOrder оформляет новый заказ.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	requester, ok := requesterFrom(w, r)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "malformed request body")
		return
	}

	in := model.CreateOrderInput{
		ClientID:      req.ClientID,
		Items:         make([]model.LineItemRequest, 0, len(req.Items)),
		Notes:         req.Notes,
		ScheduledDate: req.ScheduledDate,
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, model.LineItemRequest{
			ServiceID: it.ServiceID,
			Quantity:  it.Quantity,
			Notes:     it.Notes,
		})
	}

	o, err := h.service.CreateOrder(r.Context(), requester, in)
	middleware.RecordOrderOperation("create", err)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger.Info("order created",
		zap.String("order", o.Number), zap.String("client", o.ClientID), zap.String("total", money(o.Total)))
	writeJSON(w, http.StatusCreated, toOrderResponse(o))
}

// GetOrder возвращает заказ по идентификатору.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	requester, ok := requesterFrom(w, r)
	if !ok {
		return
	}

	o, err := h.service.GetOrder(r.Context(), requester, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

// GetOrderByNumber возвращает заказ по его номеру.
func (h *Handler) GetOrderByNumber(w http.ResponseWriter, r *http.Request) {
	requester, ok := requesterFrom(w, r)
	if !ok {
		return
	}

	o, err := h.service.GetOrderByNumber(r.Context(), requester, chi.URLParam(r, "number"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

// UpdateOrderStatus переводит заказ в новый статус.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	requester, ok := requesterFrom(w, r)
	if !ok {
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "malformed request body")
		return
	}

	to, ok := model.ParseOrderStatus(req.Status)
	if !ok {
		writeErrorMessage(w, http.StatusBadRequest, "unknown order status "+strconv.Quote(req.Status))
		return
	}

	id := chi.URLParam(r, "id")
	o, err := h.service.UpdateOrderStatus(r.Context(), requester, id, to)
	middleware.RecordOrderOperation("status_"+string(to), err)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger.Info("order status changed",
		zap.String("order", o.Number), zap.String("status", string(o.Status)),
		zap.String("requester", requester.ID), zap.String("role", string(requester.Role)))
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

type updateDetailsRequest struct {
	Notes         *string    `json:"notes"`
	ScheduledDate *time.Time `json:"scheduledDate"`
}

// UpdateOrderDetails меняет примечания и дату заказа.
func (h *Handler) UpdateOrderDetails(w http.ResponseWriter, r *http.Request) {
	requester, ok := requesterFrom(w, r)
	if !ok {
		return
	}

	var req updateDetailsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "malformed request body")
		return
	}

	o, err := h.service.UpdateOrderDetails(r.Context(), requester, chi.URLParam(r, "id"), model.OrderDetailsUpdate{
		Notes:         req.Notes,
		ScheduledDate: req.ScheduledDate,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

type orderListResponse struct {
	Orders     []orderResponse  `json:"orders"`
	Pagination model.Pagination `json:"pagination"`
}

func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("query parameter " + name + " must be a non-negative integer")
	}
	return n, nil
}

func queryTime(r *http.Request, name string) (*time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, errors.New("query parameter " + name + " must be an RFC 3339 timestamp")
	}
	return &t, nil
}

// ListOrders возвращает страницу заказов, видимых пользователю.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	requester, ok := requesterFrom(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	f := model.OrderFilter{
		ClientID: q.Get("clientId"),
		VendorID: q.Get("vendorId"),
	}

	if s := q.Get("status"); s != "" {
		status, ok := model.ParseOrderStatus(s)
		if !ok {
			writeErrorMessage(w, http.StatusBadRequest, "unknown order status "+strconv.Quote(s))
			return
		}
		f.Status = status
	}

	var err error
	if f.Page, err = queryInt(r, "page"); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if f.Limit, err = queryInt(r, "limit"); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := h.service.ListOrders(r.Context(), requester, f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := orderListResponse{
		Orders:     make([]orderResponse, 0, len(page.Orders)),
		Pagination: page.Pagination,
	}
	for i := range page.Orders {
		resp.Orders = append(resp.Orders, toOrderResponse(&page.Orders[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

type summaryResponse struct {
	TotalRevenue       string `json:"totalRevenue"`
	TotalPlatformFees  string `json:"totalPlatformFees"`
	TotalProcessorFees string `json:"totalProcessorFees"`
	TotalPayouts       string `json:"totalPayouts"`
	TotalRefunded      string `json:"totalRefunded"`
	CompletedOrders    int    `json:"completedOrders"`
	RefundedOrders     int    `json:"refundedOrders"`
	AverageOrderValue  string `json:"averageOrderValue"`
}

// FinancialSummary возвращает финансовую сводку по заказам.
func (h *Handler) FinancialSummary(w http.ResponseWriter, r *http.Request) {
	requester, ok := requesterFrom(w, r)
	if !ok {
		return
	}

	f := model.SummaryFilter{VendorID: r.URL.Query().Get("vendorId")}

	var err error
	if f.From, err = queryTime(r, "from"); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	if f.To, err = queryTime(r, "to"); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	sum, err := h.service.FinancialSummary(r.Context(), requester, f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, summaryResponse{
		TotalRevenue:       money(sum.TotalRevenue),
		TotalPlatformFees:  money(sum.TotalPlatformFees),
		TotalProcessorFees: money(sum.TotalProcessorFees),
		TotalPayouts:       money(sum.TotalPayouts),
		TotalRefunded:      money(sum.TotalRefunded),
		CompletedOrders:    sum.CompletedOrders,
		RefundedOrders:     sum.RefundedOrders,
		AverageOrderValue:  money(sum.AverageOrderValue),
	})
}

type serviceResponse struct {
	ID        string `json:"id"`
	VendorID  string `json:"vendorId"`
	Name      string `json:"name"`
	Price     string `json:"price"`
	Status    string `json:"status"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

func toServiceResponse(s *model.Service) serviceResponse {
	return serviceResponse{
		ID:        s.ID,
		VendorID:  s.VendorID,
		Name:      s.Name,
		Price:     money(s.Price),
		Status:    string(s.Status),
		CreatedAt: s.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: s.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

type createServiceRequest struct {
	VendorID string          `json:"vendorId"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
}

// CreateService добавляет услугу в каталог.
func (h *Handler) CreateService(w http.ResponseWriter, r *http.Request) {
	requester, ok := requesterFrom(w, r)
	if !ok {
		return
	}

	var req createServiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "malformed request body")
		return
	}

	s, err := h.service.CreateService(r.Context(), requester, model.CreateServiceInput{
		VendorID: req.VendorID,
		Name:     req.Name,
		Price:    req.Price,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toServiceResponse(s))
}

// ListServices возвращает услуги каталога.
func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
	requester, ok := requesterFrom(w, r)
	if !ok {
		return
	}

	includeInactive := false
	if v := r.URL.Query().Get("includeInactive"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeErrorMessage(w, http.StatusBadRequest, "query parameter includeInactive must be a boolean")
			return
		}
		includeInactive = b
	}

	services, err := h.service.ListServices(r.Context(), requester, r.URL.Query().Get("vendorId"), includeInactive)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := make([]serviceResponse, 0, len(services))
	for i := range services {
		resp = append(resp, toServiceResponse(&services[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

type updateServiceStatusRequest struct {
	Status string `json:"status"`
}

// UpdateServiceStatus включает или выключает услугу каталога.
func (h *Handler) UpdateServiceStatus(w http.ResponseWriter, r *http.Request) {
	requester, ok := requesterFrom(w, r)
	if !ok {
		return
	}

	var req updateServiceStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "malformed request body")
		return
	}

	s, err := h.service.UpdateServiceStatus(r.Context(), requester, chi.URLParam(r, "id"), model.ServiceStatus(req.Status))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toServiceResponse(s))
}
