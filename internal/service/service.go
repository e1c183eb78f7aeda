// Package service реализует бизнес-логику сервиса заказов.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/memento-mori/internal/lifecycle"
	"github.com/mmeshcher/memento-mori/internal/model"
	"github.com/mmeshcher/memento-mori/internal/pricing"
	"github.com/mmeshcher/memento-mori/internal/processor"
	"github.com/mmeshcher/memento-mori/internal/validation"
)

const (
	defaultPage  = 1
	defaultLimit = 10
	maxLimit     = 100
)

var (
	// ErrInvalidInput возвращается при некорректных входных данных запроса.
	ErrInvalidInput = errors.New("invalid input")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateService(ctx context.Context, s model.Service) error
	GetService(ctx context.Context, id string) (*model.Service, error)
	GetServicesByIDs(ctx context.Context, ids []string) (map[string]model.Service, error)
	ListServices(ctx context.Context, vendorID string, includeInactive bool) ([]model.Service, error)
	UpdateServiceStatus(ctx context.Context, id string, status model.ServiceStatus, updatedAt time.Time) error
	CreateOrder(ctx context.Context, o *model.Order) error
	GetOrder(ctx context.Context, id string) (*model.Order, error)
	GetOrderByNumber(ctx context.Context, number string) (*model.Order, error)
	ListOrders(ctx context.Context, f model.OrderFilter) ([]model.Order, int, error)
	UpdateOrder(ctx context.Context, id string, apply func(o *model.Order) error) (*model.Order, error)
	SettlementTotals(ctx context.Context, f model.SummaryFilter) (*model.SettlementTotals, error)
}

// Options содержит ставки и валюту, с которыми работает сервис.
type Options struct {
	TaxRate          decimal.Decimal
	PlatformFeeRate  decimal.Decimal
	ProcessorFeeRate decimal.Decimal
	Currency         string
}

// Service содержит бизнес-логику сервиса заказов.
type Service struct {
	repo      Repository
	processor *processor.Client
	calc      *pricing.Calculator
	rates     pricing.FeeRates
	currency  string
	logger    *zap.Logger
	now       func() time.Time
}

// NewService создаёт новый сервис с указанным репозиторием и клиентом платёжной системы.
// Клиент может быть nil, тогда комиссия платёжной системы рассчитывается по ставке.
func NewService(repo Repository, processorClient *processor.Client, opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:      repo,
		processor: processorClient,
		calc:      pricing.NewCalculator(opts.TaxRate),
		rates: pricing.FeeRates{
			Platform:  opts.PlatformFeeRate,
			Processor: opts.ProcessorFeeRate,
		},
		currency: opts.Currency,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// CreateOrder оформляет заказ в статусе PENDING с рассчитанными итогами.
// Клиент оформляет заказ на себя, администратор может указать клиента явно.
func (s *Service) CreateOrder(ctx context.Context, r model.Requester, in model.CreateOrderInput) (*model.Order, error) {
	switch r.Role {
	case model.RoleClient:
		if in.ClientID != "" && in.ClientID != r.ID {
			return nil, &lifecycle.ForbiddenError{Reason: "client may only place orders for itself"}
		}
		in.ClientID = r.ID
	case model.RoleAdmin:
		if in.ClientID == "" {
			return nil, fmt.Errorf("%w: client id is required", ErrInvalidInput)
		}
	default:
		return nil, &lifecycle.ForbiddenError{Reason: fmt.Sprintf("role %s may not place orders", r.Role)}
	}

	ids := make([]string, 0, len(in.Items))
	seen := make(map[string]bool, len(in.Items))
	for _, it := range in.Items {
		if !seen[it.ServiceID] {
			seen[it.ServiceID] = true
			ids = append(ids, it.ServiceID)
		}
	}

	catalog := map[string]model.Service{}
	if len(ids) > 0 {
		var err error
		catalog, err = s.repo.GetServicesByIDs(ctx, ids)
		if err != nil {
			return nil, err
		}
	}

	quote, err := s.calc.Quote(in.Items, catalog)
	if err != nil {
		return nil, err
	}

	now := s.now()
	number, err := validation.NewOrderNumber(now, nil)
	if err != nil {
		return nil, err
	}

	o := &model.Order{
		ID:            uuid.NewString(),
		Number:        number,
		ClientID:      in.ClientID,
		Items:         quote.Items,
		Subtotal:      quote.Subtotal,
		Tax:           quote.Tax,
		Total:         quote.Total,
		Currency:      s.currency,
		Notes:         in.Notes,
		ScheduledDate: in.ScheduledDate,
		Status:        model.OrderStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.repo.CreateOrder(ctx, o); err != nil {
		return nil, err
	}

	return o, nil
}

// GetOrder возвращает заказ, если пользователь связан с ним.
func (s *Service) GetOrder(ctx context.Context, r model.Requester, id string) (*model.Order, error) {
	o, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := lifecycle.CanView(o, r); err != nil {
		return nil, err
	}
	return o, nil
}

// GetOrderByNumber возвращает заказ по номеру, если пользователь связан с ним.
func (s *Service) GetOrderByNumber(ctx context.Context, r model.Requester, number string) (*model.Order, error) {
	if !validation.IsValidOrderNumber(number) {
		return nil, fmt.Errorf("%w: malformed order number %q", ErrInvalidInput, number)
	}

	o, err := s.repo.GetOrderByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if err := lifecycle.CanView(o, r); err != nil {
		return nil, err
	}
	return o, nil
}

// UpdateOrderStatus переводит заказ в статус to. Переход в COMPLETED создаёт запись расчёта,
// переход в REFUNDED помечает её возвращённой.
func (s *Service) UpdateOrderStatus(ctx context.Context, r model.Requester, id string, to model.OrderStatus) (*model.Order, error) {
	var reportedFee *decimal.Decimal
	if to == model.OrderStatusCompleted && s.processor != nil {
		snapshot, err := s.repo.GetOrder(ctx, id)
		if err != nil {
			return nil, err
		}
		// Внешний запрос делаем до блокировки строки и только если переход вообще разрешён.
		if err := lifecycle.Authorize(snapshot, r, to); err != nil {
			return nil, err
		}
		reportedFee = s.reportedProcessorFee(ctx, snapshot.Number)
	}

	return s.repo.UpdateOrder(ctx, id, func(o *model.Order) error {
		now := s.now()
		if err := lifecycle.Apply(o, r, to, now); err != nil {
			return err
		}

		switch to {
		case model.OrderStatusCompleted:
			st, err := pricing.Settle(o.Total, s.rates, reportedFee)
			if err != nil {
				return fmt.Errorf("settle order %s: %w", o.Number, err)
			}
			st.OrderID = o.ID
			st.PaidAt = *o.CompletedAt
			o.Settlement = &st
		case model.OrderStatusRefunded:
			if o.Settlement != nil {
				o.Settlement.Status = model.SettlementStatusRefunded
				o.Settlement.RefundedAt = &now
			}
		}

		return nil
	})
}

func (s *Service) reportedProcessorFee(ctx context.Context, number string) *decimal.Decimal {
	resp, statusCode, retryAfter, err := s.processor.GetPaymentFee(ctx, number)
	if err != nil {
		s.logger.Warn("processor fee lookup failed, using simulated fee",
			zap.Error(err), zap.String("order", number))
		return nil
	}

	switch statusCode {
	case http.StatusTooManyRequests:
		s.logger.Warn("processor rate limited fee lookup, using simulated fee",
			zap.String("order", number), zap.Duration("retryAfter", retryAfter))
		return nil
	case http.StatusNoContent:
		s.logger.Info("processor has no payment for order, using simulated fee", zap.String("order", number))
		return nil
	}

	if resp == nil || resp.Fee == nil || resp.Status != processor.StatusCaptured {
		s.logger.Info("processor payment is not captured, using simulated fee", zap.String("order", number))
		return nil
	}

	if resp.Fee.IsNegative() {
		s.logger.Warn("processor reported negative fee, using simulated fee",
			zap.String("order", number), zap.String("fee", resp.Fee.String()))
		return nil
	}

	return resp.Fee
}

// UpdateOrderDetails меняет примечания и дату заказа, пока заказ не завершён.
func (s *Service) UpdateOrderDetails(ctx context.Context, r model.Requester, id string, upd model.OrderDetailsUpdate) (*model.Order, error) {
	return s.repo.UpdateOrder(ctx, id, func(o *model.Order) error {
		if err := lifecycle.AuthorizeEdit(o, r); err != nil {
			return err
		}
		if upd.Notes != nil {
			o.Notes = *upd.Notes
		}
		if upd.ScheduledDate != nil {
			o.ScheduledDate = upd.ScheduledDate
		}
		o.UpdatedAt = s.now()
		return nil
	})
}

// ListOrders возвращает страницу заказов. Клиент видит только свои заказы,
// исполнитель только заказы со своими позициями.
func (s *Service) ListOrders(ctx context.Context, r model.Requester, f model.OrderFilter) (*model.OrderPage, error) {
	switch r.Role {
	case model.RoleAdmin:
	case model.RoleClient:
		f.ClientID = r.ID
	case model.RoleVendor:
		f.VendorID = r.ID
	default:
		return nil, &lifecycle.ForbiddenError{Reason: fmt.Sprintf("role %s may not list orders", r.Role)}
	}

	if f.Page < 1 {
		f.Page = defaultPage
	}
	if f.Limit < 1 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}

	orders, total, err := s.repo.ListOrders(ctx, f)
	if err != nil {
		return nil, err
	}

	return &model.OrderPage{
		Orders: orders,
		Pagination: model.Pagination{
			Page:       f.Page,
			Limit:      f.Limit,
			Total:      total,
			TotalPages: (total + f.Limit - 1) / f.Limit,
		},
	}, nil
}

// FinancialSummary возвращает сводку по расчётам. Исполнитель видит только свои заказы.
func (s *Service) FinancialSummary(ctx context.Context, r model.Requester, f model.SummaryFilter) (*model.FinancialSummary, error) {
	switch r.Role {
	case model.RoleAdmin:
	case model.RoleVendor:
		f.VendorID = r.ID
	default:
		return nil, &lifecycle.ForbiddenError{Reason: fmt.Sprintf("role %s may not view financial summary", r.Role)}
	}

	if f.From != nil && f.To != nil && !f.From.Before(*f.To) {
		return nil, fmt.Errorf("%w: from must be before to", ErrInvalidInput)
	}

	totals, err := s.repo.SettlementTotals(ctx, f)
	if err != nil {
		return nil, err
	}

	summary := pricing.Summarize(*totals)
	return &summary, nil
}
