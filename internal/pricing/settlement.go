package pricing

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/memento-mori/internal/model"
)

var (
	// ErrNegativePayout возвращается, если комиссии превышают сумму оплаты.
	ErrNegativePayout = errors.New("fees exceed payment amount")
	// ErrNegativeProcessorFee возвращается, если платёжная система сообщила отрицательную комиссию.
	ErrNegativeProcessorFee = errors.New("processor fee must not be negative")
)

// FeeRates содержит ставки комиссии платформы и платёжной системы.
type FeeRates struct {
	Platform  decimal.Decimal
	Processor decimal.Decimal
}

// Settle распределяет сумму оплаты между платформой, платёжной системой и исполнителем.
// Если reportedProcessorFee не nil, используется комиссия, сообщённая платёжной системой.
// Выплата исполнителю вычисляется как остаток, поэтому три части всегда дают исходную сумму.
func Settle(amount decimal.Decimal, rates FeeRates, reportedProcessorFee *decimal.Decimal) (model.Settlement, error) {
	amount = amount.Round(2)
	platformFee := amount.Mul(rates.Platform).Round(2)

	processorFee := amount.Mul(rates.Processor).Round(2)
	if reportedProcessorFee != nil {
		if reportedProcessorFee.IsNegative() {
			return model.Settlement{}, ErrNegativeProcessorFee
		}
		processorFee = reportedProcessorFee.Round(2)
	}

	payout := amount.Sub(platformFee).Sub(processorFee)
	if payout.IsNegative() {
		return model.Settlement{}, ErrNegativePayout
	}

	return model.Settlement{
		Amount:       amount,
		PlatformFee:  platformFee,
		ProcessorFee: processorFee,
		VendorPayout: payout,
		Status:       model.SettlementStatusCompleted,
	}, nil
}

// AverageOrderValue делит выручку на число заказов, возвращая ноль для пустой выборки.
func AverageOrderValue(revenue decimal.Decimal, orders int) decimal.Decimal {
	if orders == 0 {
		return decimal.Zero
	}
	return revenue.DivRound(decimal.NewFromInt(int64(orders)), 2)
}

// Summarize строит финансовую сводку по агрегатам хранилища.
func Summarize(t model.SettlementTotals) model.FinancialSummary {
	return model.FinancialSummary{
		TotalRevenue:       t.Revenue,
		TotalPlatformFees:  t.PlatformFees,
		TotalProcessorFees: t.ProcessorFees,
		TotalPayouts:       t.Payouts,
		TotalRefunded:      t.Refunded,
		CompletedOrders:    t.CompletedCount,
		RefundedOrders:     t.RefundedCount,
		AverageOrderValue:  AverageOrderValue(t.Revenue, t.BillableOrders),
	}
}
