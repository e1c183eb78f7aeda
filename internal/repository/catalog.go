package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/memento-mori/internal/model"
)

const serviceColumns = `id, vendor_id, name, price, status, created_at, updated_at`

func scanService(row pgx.Row) (model.Service, error) {
	var (
		s      model.Service
		price  int64
		status string
	)
	if err := row.Scan(&s.ID, &s.VendorID, &s.Name, &price, &status, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return model.Service{}, err
	}
	s.Price = fromCents(price)
	s.Status = model.ServiceStatus(status)
	return s, nil
}

// CreateService сохраняет новую услугу каталога.
func (r *PostgresRepository) CreateService(ctx context.Context, s model.Service) error {
	price, err := toCents(s.Price)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO services (id, vendor_id, name, price, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.VendorID, s.Name, price, string(s.Status), s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert service: %w", err)
	}
	return nil
}

// GetService возвращает услугу каталога по идентификатору.
func (r *PostgresRepository) GetService(ctx context.Context, id string) (*model.Service, error) {
	s, err := scanService(r.pool.QueryRow(ctx,
		`SELECT `+serviceColumns+` FROM services WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrServiceNotFound
		}
		return nil, fmt.Errorf("get service: %w", err)
	}
	return &s, nil
}

// GetServicesByIDs возвращает найденные услуги каталога, проиндексированные по идентификатору.
func (r *PostgresRepository) GetServicesByIDs(ctx context.Context, ids []string) (map[string]model.Service, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+serviceColumns+` FROM services WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("select services: %w", err)
	}
	defer rows.Close()

	res := make(map[string]model.Service, len(ids))
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, fmt.Errorf("scan service: %w", err)
		}
		res[s.ID] = s
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ListServices возвращает услуги каталога, при необходимости только указанного исполнителя.
func (r *PostgresRepository) ListServices(ctx context.Context, vendorID string, includeInactive bool) ([]model.Service, error) {
	w := &whereBuilder{}
	if vendorID != "" {
		w.add("vendor_id = $%d", vendorID)
	}
	if !includeInactive {
		w.add("status = $%d", string(model.ServiceStatusActive))
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+serviceColumns+` FROM services`+w.sql()+` ORDER BY name, id`,
		w.args...,
	)
	if err != nil {
		return nil, fmt.Errorf("select services: %w", err)
	}
	defer rows.Close()

	var res []model.Service
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, fmt.Errorf("scan service: %w", err)
		}
		res = append(res, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// UpdateServiceStatus меняет статус услуги. Позиции оформленных заказов не затрагиваются.
func (r *PostgresRepository) UpdateServiceStatus(ctx context.Context, id string, status model.ServiceStatus, updatedAt time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE services SET status = $2, updated_at = $3 WHERE id = $1`,
		id, string(status), updatedAt,
	)
	if err != nil {
		return fmt.Errorf("update service: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrServiceNotFound
	}
	return nil
}
