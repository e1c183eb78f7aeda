// Package pricing рассчитывает стоимость заказа и распределение оплаты.
package pricing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/memento-mori/internal/model"
)

// ErrInvalidLineItems возвращается, если позиции заказа ссылаются на отсутствующие или неактивные услуги.
var ErrInvalidLineItems = errors.New("line items invalid")

// ErrNoLineItems возвращается при попытке оформить пустой заказ.
var ErrNoLineItems = fmt.Errorf("%w: order has no line items", ErrInvalidLineItems)

// ErrOrderTooLarge возвращается, если подытог заказа превышает MaxOrderAmount.
var ErrOrderTooLarge = fmt.Errorf("%w: order amount exceeds limit", ErrInvalidLineItems)

const (
	// MaxQuantity ограничивает количество единиц услуги в одной позиции.
	MaxQuantity = 10_000
)

var (
	// MaxUnitPrice ограничивает цену услуги каталога.
	MaxUnitPrice = decimal.NewFromInt(1_000_000)
	// MaxOrderAmount ограничивает подытог заказа.
	MaxOrderAmount = decimal.NewFromInt(10_000_000_000)
)

// LineItemsError перечисляет некорректные позиции заказа.
type LineItemsError struct {
	Missing         []string
	Inactive        []string
	InvalidQuantity []string
}

func (e *LineItemsError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing services: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Inactive) > 0 {
		parts = append(parts, "inactive services: "+strings.Join(e.Inactive, ", "))
	}
	if len(e.InvalidQuantity) > 0 {
		parts = append(parts, "invalid quantity: "+strings.Join(e.InvalidQuantity, ", "))
	}
	return ErrInvalidLineItems.Error() + ": " + strings.Join(parts, "; ")
}

func (e *LineItemsError) Is(target error) bool {
	return target == ErrInvalidLineItems
}

func (e *LineItemsError) empty() bool {
	return len(e.Missing) == 0 && len(e.Inactive) == 0 && len(e.InvalidQuantity) == 0
}

// Quote содержит рассчитанные позиции и итоги заказа.
type Quote struct {
	Items    []model.OrderItem
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

// Calculator рассчитывает итоги заказа по фиксированной ставке налога.
type Calculator struct {
	taxRate decimal.Decimal
}

// NewCalculator создаёт калькулятор с указанной ставкой налога.
func NewCalculator(taxRate decimal.Decimal) *Calculator {
	return &Calculator{taxRate: taxRate}
}

// TaxRate возвращает ставку налога калькулятора.
func (c *Calculator) TaxRate() decimal.Decimal {
	return c.taxRate
}

// Quote сопоставляет позиции с услугами каталога и считает подытог, налог и итог.
// Округление до копеек выполняется один раз, при расчёте налога.
func (c *Calculator) Quote(requests []model.LineItemRequest, catalog map[string]model.Service) (*Quote, error) {
	if len(requests) == 0 {
		return nil, ErrNoLineItems
	}

	verr := &LineItemsError{}
	items := make([]model.OrderItem, 0, len(requests))
	subtotal := decimal.Zero

	for _, req := range requests {
		if req.Quantity <= 0 || req.Quantity > MaxQuantity {
			verr.InvalidQuantity = append(verr.InvalidQuantity, req.ServiceID)
			continue
		}

		svc, ok := catalog[req.ServiceID]
		if !ok {
			verr.Missing = append(verr.Missing, req.ServiceID)
			continue
		}
		if svc.Status != model.ServiceStatusActive {
			verr.Inactive = append(verr.Inactive, req.ServiceID)
			continue
		}

		lineTotal := svc.Price.Mul(decimal.NewFromInt(int64(req.Quantity)))
		subtotal = subtotal.Add(lineTotal)

		items = append(items, model.OrderItem{
			ID:          uuid.NewString(),
			ServiceID:   svc.ID,
			VendorID:    svc.VendorID,
			ServiceName: svc.Name,
			Quantity:    req.Quantity,
			UnitPrice:   svc.Price,
			LineTotal:   lineTotal,
			Notes:       req.Notes,
		})
	}

	if !verr.empty() {
		return nil, verr
	}
	if subtotal.GreaterThan(MaxOrderAmount) {
		return nil, ErrOrderTooLarge
	}

	tax := subtotal.Mul(c.taxRate).Round(2)

	return &Quote{
		Items:    items,
		Subtotal: subtotal,
		Tax:      tax,
		Total:    subtotal.Add(tax),
	}, nil
}
