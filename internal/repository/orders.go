package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mmeshcher/memento-mori/internal/model"
)

const orderColumns = `o.id, o.number, o.client_id, o.subtotal, o.tax, o.total, o.currency, o.notes,
	o.scheduled_date, o.status, o.created_at, o.updated_at, o.completed_at, o.cancelled_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o                    model.Order
		subtotal, tax, total int64
		status               string
	)
	err := row.Scan(
		&o.ID, &o.Number, &o.ClientID, &subtotal, &tax, &total, &o.Currency, &o.Notes,
		&o.ScheduledDate, &status, &o.CreatedAt, &o.UpdatedAt, &o.CompletedAt, &o.CancelledAt,
	)
	if err != nil {
		return nil, err
	}

	o.Subtotal = fromCents(subtotal)
	o.Tax = fromCents(tax)
	o.Total = fromCents(total)
	o.Status = model.OrderStatus(status)

	return &o, nil
}

// CreateOrder сохраняет заказ вместе с позициями в одной транзакции.
func (r *PostgresRepository) CreateOrder(ctx context.Context, o *model.Order) error {
	totals, err := toCentsAll(o.Subtotal, o.Tax, o.Total)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO orders (id, number, client_id, subtotal, tax, total, currency, notes,
		                     scheduled_date, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		o.ID, o.Number, o.ClientID, totals[0], totals[1], totals[2], o.Currency, o.Notes,
		o.ScheduledDate, string(o.Status), o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation && pgErr.ConstraintName == "orders_number_key" {
			return fmt.Errorf("%w: %s", ErrDuplicateOrderNumber, o.Number)
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for i, it := range o.Items {
		amounts, err := toCentsAll(it.UnitPrice, it.LineTotal)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO order_items (id, order_id, position, service_id, vendor_id, service_name,
			                          quantity, unit_price, line_total, notes)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			it.ID, o.ID, i, it.ServiceID, it.VendorID, it.ServiceName,
			it.Quantity, amounts[0], amounts[1], it.Notes,
		)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// GetOrder возвращает заказ с позициями и расчётом.
func (r *PostgresRepository) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return r.getOrder(ctx, `o.id = $1`, id)
}

// GetOrderByNumber возвращает заказ по его номеру.
func (r *PostgresRepository) GetOrderByNumber(ctx context.Context, number string) (*model.Order, error) {
	return r.getOrder(ctx, `o.number = $1`, number)
}

func (r *PostgresRepository) getOrder(ctx context.Context, cond string, arg any) (*model.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders o WHERE `+cond,
		arg,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	if err := r.loadDetails(ctx, r.pool, o); err != nil {
		return nil, err
	}

	return o, nil
}

func (r *PostgresRepository) loadDetails(ctx context.Context, q querier, o *model.Order) error {
	items, err := loadItems(ctx, q, []string{o.ID})
	if err != nil {
		return err
	}
	o.Items = items[o.ID]

	s, err := loadSettlement(ctx, q, o.ID)
	if err != nil {
		return err
	}
	o.Settlement = s

	return nil
}

func loadItems(ctx context.Context, q querier, orderIDs []string) (map[string][]model.OrderItem, error) {
	rows, err := q.Query(ctx,
		`SELECT order_id, id, service_id, vendor_id, service_name, quantity, unit_price, line_total, notes
		 FROM order_items
		 WHERE order_id = ANY($1)
		 ORDER BY order_id, position`,
		orderIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	res := make(map[string][]model.OrderItem, len(orderIDs))
	for rows.Next() {
		var (
			orderID              string
			it                   model.OrderItem
			unitPrice, lineTotal int64
		)
		err := rows.Scan(&orderID, &it.ID, &it.ServiceID, &it.VendorID, &it.ServiceName,
			&it.Quantity, &unitPrice, &lineTotal, &it.Notes)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		it.UnitPrice = fromCents(unitPrice)
		it.LineTotal = fromCents(lineTotal)
		res[orderID] = append(res[orderID], it)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ListOrders возвращает страницу заказов и общее число заказов, подходящих под фильтр.
func (r *PostgresRepository) ListOrders(ctx context.Context, f model.OrderFilter) ([]model.Order, int, error) {
	w := &whereBuilder{}
	if f.Status != "" {
		w.add("o.status = $%d", string(f.Status))
	}
	if f.ClientID != "" {
		w.add("o.client_id = $%d", f.ClientID)
	}
	if f.VendorID != "" {
		w.add("EXISTS (SELECT 1 FROM order_items i WHERE i.order_id = o.id AND i.vendor_id = $%d)", f.VendorID)
	}
	where := w.sql()

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM orders o`+where, w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	limit := w.arg(f.Limit)
	offset := w.arg((f.Page - 1) * f.Limit)

	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders o`+where+
			` ORDER BY o.created_at DESC, o.id LIMIT `+limit+` OFFSET `+offset,
		w.args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var (
		orders []model.Order
		ids    []string
	)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
		ids = append(ids, o.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows error: %w", err)
	}

	if len(ids) == 0 {
		return orders, total, nil
	}

	items, err := loadItems(ctx, r.pool, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}

	return orders, total, nil
}

// UpdateOrder блокирует строку заказа, передаёт свежее состояние в apply и сохраняет результат.
// Чтение, проверка и запись выполняются в одной транзакции, поэтому два конкурентных перехода
// не могут оба увидеть исходный статус.
func (r *PostgresRepository) UpdateOrder(ctx context.Context, id string, apply func(o *model.Order) error) (*model.Order, error) {
	var updated *model.Order

	err := r.withRetry(ctx, func() error {
		o, err := r.updateOrderTx(ctx, id, apply)
		if err != nil {
			return err
		}
		updated = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

func (r *PostgresRepository) updateOrderTx(ctx context.Context, id string, apply func(o *model.Order) error) (*model.Order, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	o, err := scanOrder(tx.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders o WHERE o.id = $1 FOR UPDATE`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("lock order for update: %w", err)
	}

	if err := r.loadDetails(ctx, tx, o); err != nil {
		return nil, err
	}

	if err := apply(o); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE orders
		 SET notes = $2, scheduled_date = $3, status = $4, updated_at = $5, completed_at = $6, cancelled_at = $7
		 WHERE id = $1`,
		o.ID, o.Notes, o.ScheduledDate, string(o.Status), o.UpdatedAt, o.CompletedAt, o.CancelledAt,
	)
	if err != nil {
		return nil, fmt.Errorf("update order: %w", err)
	}

	if o.Settlement != nil {
		if err := saveSettlement(ctx, tx, o.ID, o.Settlement); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return o, nil
}
