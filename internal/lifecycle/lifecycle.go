// Package lifecycle описывает допустимые переходы статусов заказа и права ролей на них.
//
// Проверка структурной допустимости перехода не зависит от того, кто его запрашивает;
// проверка прав выполняется поверх неё, и для успешного перехода должны пройти обе.
package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/mmeshcher/memento-mori/internal/model"
)

var (
	// ErrBadTransition возвращается, если переход недопустим из текущего статуса.
	ErrBadTransition = errors.New("bad transition")
	// ErrForbidden возвращается, если у пользователя нет прав на операцию с заказом.
	ErrForbidden = errors.New("forbidden")
	// ErrOrderImmutable возвращается при попытке изменить завершённый заказ.
	ErrOrderImmutable = errors.New("order can no longer be modified")
)

// TransitionError описывает недопустимый переход статуса.
type TransitionError struct {
	From model.OrderStatus
	To   model.OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s", ErrBadTransition, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrBadTransition
}

// ForbiddenError описывает отказ в доступе с указанием причины.
type ForbiddenError struct {
	Reason string
}

func (e *ForbiddenError) Error() string {
	return ErrForbidden.Error() + ": " + e.Reason
}

func (e *ForbiddenError) Is(target error) bool {
	return target == ErrForbidden
}

func forbidden(format string, args ...any) error {
	return &ForbiddenError{Reason: fmt.Sprintf(format, args...)}
}

var transitions = map[model.OrderStatus][]model.OrderStatus{
	model.OrderStatusPending:    {model.OrderStatusConfirmed, model.OrderStatusCancelled},
	model.OrderStatusConfirmed:  {model.OrderStatusInProgress, model.OrderStatusCancelled},
	model.OrderStatusInProgress: {model.OrderStatusCompleted, model.OrderStatusCancelled},
	model.OrderStatusCompleted:  {model.OrderStatusRefunded},
	model.OrderStatusCancelled:  {},
	model.OrderStatusRefunded:   {},
}

var vendorTargets = map[model.OrderStatus]bool{
	model.OrderStatusConfirmed:  true,
	model.OrderStatusInProgress: true,
	model.OrderStatusCompleted:  true,
}

// CanTransition сообщает, есть ли в таблице переходов ребро from -> to.
func CanTransition(from, to model.OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition возвращает *TransitionError, если переход недопустим.
func CheckTransition(from, to model.OrderStatus) error {
	if !CanTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}

// IsTerminal сообщает, что из статуса нет ни одного перехода.
func IsTerminal(status model.OrderStatus) bool {
	return len(transitions[status]) == 0
}

// IsEditable сообщает, можно ли менять примечания и дату заказа в этом статусе.
func IsEditable(status model.OrderStatus) bool {
	switch status {
	case model.OrderStatusPending, model.OrderStatusConfirmed, model.OrderStatusInProgress:
		return true
	}
	return false
}

func isOwner(o *model.Order, r model.Requester) bool {
	return r.Role == model.RoleClient && r.ID != "" && o.ClientID == r.ID
}

func isFulfillingVendor(o *model.Order, r model.Requester) bool {
	return r.Role == model.RoleVendor && r.ID != "" && o.HasVendor(r.ID)
}

// CanView проверяет, связан ли пользователь с заказом.
func CanView(o *model.Order, r model.Requester) error {
	if r.Role == model.RoleAdmin || isOwner(o, r) || isFulfillingVendor(o, r) {
		return nil
	}
	return forbidden("requester %s is not related to order %s", r.ID, o.Number)
}

// Authorize проверяет права пользователя на перевод заказа в статус to,
// а затем структурную допустимость перехода.
func Authorize(o *model.Order, r model.Requester, to model.OrderStatus) error {
	switch {
	case r.Role == model.RoleAdmin:
	case isOwner(o, r):
		if to != model.OrderStatusCancelled {
			return forbidden("client may only cancel an order, not move it to %s", to)
		}
		if o.Status != model.OrderStatusPending {
			return forbidden("client may only cancel a %s order, order is %s", model.OrderStatusPending, o.Status)
		}
	case isFulfillingVendor(o, r):
		if !vendorTargets[to] {
			return forbidden("vendor may not move an order to %s", to)
		}
	default:
		return forbidden("requester %s is not related to order %s", r.ID, o.Number)
	}

	return CheckTransition(o.Status, to)
}

// Apply выполняет переход после проверки прав. Время завершения и отмены
// фиксируется ровно один раз, в момент перехода в соответствующий статус.
func Apply(o *model.Order, r model.Requester, to model.OrderStatus, now time.Time) error {
	if err := Authorize(o, r, to); err != nil {
		return err
	}

	o.Status = to
	o.UpdatedAt = now

	switch to {
	case model.OrderStatusCompleted:
		if o.CompletedAt == nil {
			o.CompletedAt = &now
		}
	case model.OrderStatusCancelled:
		if o.CancelledAt == nil {
			o.CancelledAt = &now
		}
	}

	return nil
}

// AuthorizeEdit проверяет, может ли пользователь менять примечания и дату заказа.
func AuthorizeEdit(o *model.Order, r model.Requester) error {
	if r.Role != model.RoleAdmin && !isOwner(o, r) {
		return forbidden("only the client or an administrator may edit order %s", o.Number)
	}
	if !IsEditable(o.Status) {
		return fmt.Errorf("%w: order is %s", ErrOrderImmutable, o.Status)
	}
	return nil
}
