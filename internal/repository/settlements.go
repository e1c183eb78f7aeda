package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/memento-mori/internal/model"
)

func loadSettlement(ctx context.Context, q querier, orderID string) (*model.Settlement, error) {
	var (
		s                                         model.Settlement
		amount, platformFee, processorFee, payout int64
		status                                    string
	)
	err := q.QueryRow(ctx,
		`SELECT order_id, amount, platform_fee, processor_fee, vendor_payout, status, paid_at, refunded_at
		 FROM settlements
		 WHERE order_id = $1`,
		orderID,
	).Scan(&s.OrderID, &amount, &platformFee, &processorFee, &payout, &status, &s.PaidAt, &s.RefundedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get settlement: %w", err)
	}

	s.Amount = fromCents(amount)
	s.PlatformFee = fromCents(platformFee)
	s.ProcessorFee = fromCents(processorFee)
	s.VendorPayout = fromCents(payout)
	s.Status = model.SettlementStatus(status)

	return &s, nil
}

func saveSettlement(ctx context.Context, tx pgx.Tx, orderID string, s *model.Settlement) error {
	amounts, err := toCentsAll(s.Amount, s.PlatformFee, s.ProcessorFee, s.VendorPayout)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO settlements (order_id, amount, platform_fee, processor_fee, vendor_payout, status, paid_at, refunded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (order_id) DO UPDATE SET status = EXCLUDED.status, refunded_at = EXCLUDED.refunded_at`,
		orderID, amounts[0], amounts[1], amounts[2], amounts[3],
		string(s.Status), s.PaidAt, s.RefundedAt,
	)
	if err != nil {
		return fmt.Errorf("save settlement: %w", err)
	}
	return nil
}

// SettlementTotals агрегирует расчёты по заказам, подходящим под фильтр.
func (r *PostgresRepository) SettlementTotals(ctx context.Context, f model.SummaryFilter) (*model.SettlementTotals, error) {
	w := &whereBuilder{}
	completed := w.arg(string(model.SettlementStatusCompleted))
	refunded := w.arg(string(model.SettlementStatusRefunded))
	applySummaryFilter(w, f)

	var (
		t                                                      model.SettlementTotals
		revenue, platformFees, processorFees, payouts, refunds int64
	)
	err := r.pool.QueryRow(ctx,
		`SELECT
		   COALESCE(SUM(s.amount) FILTER (WHERE s.status = `+completed+`), 0),
		   COALESCE(SUM(s.platform_fee) FILTER (WHERE s.status = `+completed+`), 0),
		   COALESCE(SUM(s.processor_fee) FILTER (WHERE s.status = `+completed+`), 0),
		   COALESCE(SUM(s.vendor_payout) FILTER (WHERE s.status = `+completed+`), 0),
		   COALESCE(SUM(s.amount) FILTER (WHERE s.status = `+refunded+`), 0),
		   COUNT(*) FILTER (WHERE s.status = `+completed+`),
		   COUNT(*) FILTER (WHERE s.status = `+refunded+`)
		 FROM settlements s
		 JOIN orders o ON o.id = s.order_id`+w.sql(),
		w.args...,
	).Scan(&revenue, &platformFees, &processorFees, &payouts, &refunds, &t.CompletedCount, &t.RefundedCount)
	if err != nil {
		return nil, fmt.Errorf("sum settlements: %w", err)
	}

	t.Revenue = fromCents(revenue)
	t.PlatformFees = fromCents(platformFees)
	t.ProcessorFees = fromCents(processorFees)
	t.Payouts = fromCents(payouts)
	t.Refunded = fromCents(refunds)

	// Средний чек считается по выполненным и выполняемым заказам.
	bw := &whereBuilder{}
	bw.conds = append(bw.conds, fmt.Sprintf("o.status IN (%s, %s)",
		bw.arg(string(model.OrderStatusCompleted)), bw.arg(string(model.OrderStatusInProgress))))
	applySummaryFilter(bw, f)

	err = r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM orders o`+bw.sql(), bw.args...).Scan(&t.BillableOrders)
	if err != nil {
		return nil, fmt.Errorf("count billable orders: %w", err)
	}

	return &t, nil
}

func applySummaryFilter(w *whereBuilder, f model.SummaryFilter) {
	if f.VendorID != "" {
		w.add("EXISTS (SELECT 1 FROM order_items i WHERE i.order_id = o.id AND i.vendor_id = $%d)", f.VendorID)
	}
	if f.From != nil {
		w.add("o.created_at >= $%d", *f.From)
	}
	if f.To != nil {
		w.add("o.created_at < $%d", *f.To)
	}
}
