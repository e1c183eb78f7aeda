// Package model содержит доменные сущности сервиса заказов Memento Mori.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role описывает роль пользователя платформы.
type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleClient Role = "CLIENT"
	RoleVendor Role = "VENDOR"
)

// Valid сообщает, известна ли роль системе.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleClient, RoleVendor:
		return true
	}
	return false
}

// Requester описывает пользователя, выполняющего операцию.
type Requester struct {
	ID   string
	Role Role
}

// OrderStatus описывает статус заказа.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusConfirmed  OrderStatus = "CONFIRMED"
	OrderStatusInProgress OrderStatus = "IN_PROGRESS"
	OrderStatusCompleted  OrderStatus = "COMPLETED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
	OrderStatusRefunded   OrderStatus = "REFUNDED"
)

// OrderStatuses перечисляет все статусы заказа.
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusInProgress,
	OrderStatusCompleted,
	OrderStatusCancelled,
	OrderStatusRefunded,
}

// ParseOrderStatus преобразует строку в статус заказа.
func ParseOrderStatus(s string) (OrderStatus, bool) {
	for _, st := range OrderStatuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// ServiceStatus описывает доступность услуги каталога для продажи.
type ServiceStatus string

const (
	ServiceStatusActive   ServiceStatus = "ACTIVE"
	ServiceStatusInactive ServiceStatus = "INACTIVE"
)

// Service представляет услугу исполнителя в каталоге.
type Service struct {
	ID        string
	VendorID  string
	Name      string
	Price     decimal.Decimal
	Status    ServiceStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OrderItem описывает позицию заказа со снимком названия и цены услуги.
type OrderItem struct {
	ID          string
	ServiceID   string
	VendorID    string
	ServiceName string
	Quantity    int
	UnitPrice   decimal.Decimal
	LineTotal   decimal.Decimal
	Notes       string
}

// Order описывает заказ клиента.
type Order struct {
	ID            string
	Number        string
	ClientID      string
	Items         []OrderItem
	Subtotal      decimal.Decimal
	Tax           decimal.Decimal
	Total         decimal.Decimal
	Currency      string
	Notes         string
	ScheduledDate *time.Time
	Status        OrderStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
	CancelledAt   *time.Time
	Settlement    *Settlement
}

// HasVendor сообщает, исполняет ли указанный исполнитель хотя бы одну позицию заказа.
func (o *Order) HasVendor(vendorID string) bool {
	for _, it := range o.Items {
		if it.VendorID == vendorID {
			return true
		}
	}
	return false
}

// SettlementStatus описывает статус расчёта по заказу.
type SettlementStatus string

const (
	SettlementStatusCompleted SettlementStatus = "COMPLETED"
	SettlementStatusRefunded  SettlementStatus = "REFUNDED"
)

// Settlement описывает распределение оплаты заказа между платформой, платёжной системой и исполнителем.
type Settlement struct {
	OrderID      string
	Amount       decimal.Decimal
	PlatformFee  decimal.Decimal
	ProcessorFee decimal.Decimal
	VendorPayout decimal.Decimal
	Status       SettlementStatus
	PaidAt       time.Time
	RefundedAt   *time.Time
}

// LineItemRequest описывает позицию, запрошенную при оформлении заказа.
type LineItemRequest struct {
	ServiceID string
	Quantity  int
	Notes     string
}

// CreateOrderInput содержит данные для оформления заказа.
type CreateOrderInput struct {
	ClientID      string
	Items         []LineItemRequest
	Notes         string
	ScheduledDate *time.Time
}

// OrderDetailsUpdate содержит изменяемые поля заказа. Nil означает «не менять».
type OrderDetailsUpdate struct {
	Notes         *string
	ScheduledDate *time.Time
}

// CreateServiceInput содержит данные новой услуги каталога.
type CreateServiceInput struct {
	VendorID string
	Name     string
	Price    decimal.Decimal
}

// OrderFilter задаёт фильтры и пагинацию списка заказов.
type OrderFilter struct {
	Status   OrderStatus
	ClientID string
	VendorID string
	Page     int
	Limit    int
}

// Pagination описывает страницу выборки.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// OrderPage содержит страницу заказов.
type OrderPage struct {
	Orders     []Order
	Pagination Pagination
}

// SummaryFilter задаёт выборку заказов для финансовой сводки.
type SummaryFilter struct {
	VendorID string
	From     *time.Time
	To       *time.Time
}

// SettlementTotals содержит суммы расчётов, агрегированные хранилищем.
type SettlementTotals struct {
	Revenue        decimal.Decimal
	PlatformFees   decimal.Decimal
	ProcessorFees  decimal.Decimal
	Payouts        decimal.Decimal
	Refunded       decimal.Decimal
	CompletedCount int
	RefundedCount  int
	BillableOrders int
}

// FinancialSummary содержит финансовую сводку по заказам.
type FinancialSummary struct {
	TotalRevenue       decimal.Decimal
	TotalPlatformFees  decimal.Decimal
	TotalProcessorFees decimal.Decimal
	TotalPayouts       decimal.Decimal
	TotalRefunded      decimal.Decimal
	CompletedOrders    int
	RefundedOrders     int
	AverageOrderValue  decimal.Decimal
}
