package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mmeshcher/memento-mori/internal/lifecycle"
	"github.com/mmeshcher/memento-mori/internal/model"
	"github.com/mmeshcher/memento-mori/internal/pricing"
)

// CreateService добавляет услугу в каталог. Исполнитель создаёт услуги только от своего имени.
func (s *Service) CreateService(ctx context.Context, r model.Requester, in model.CreateServiceInput) (*model.Service, error) {
	switch r.Role {
	case model.RoleVendor:
		if in.VendorID != "" && in.VendorID != r.ID {
			return nil, &lifecycle.ForbiddenError{Reason: "vendor may only create its own services"}
		}
		in.VendorID = r.ID
	case model.RoleAdmin:
		if in.VendorID == "" {
			return nil, fmt.Errorf("%w: vendor id is required", ErrInvalidInput)
		}
	default:
		return nil, &lifecycle.ForbiddenError{Reason: fmt.Sprintf("role %s may not create services", r.Role)}
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: service name is required", ErrInvalidInput)
	}
	if in.Price.IsNegative() {
		return nil, fmt.Errorf("%w: price must not be negative", ErrInvalidInput)
	}
	if in.Price.GreaterThan(pricing.MaxUnitPrice) {
		return nil, fmt.Errorf("%w: price must not exceed %s", ErrInvalidInput, pricing.MaxUnitPrice.StringFixed(2))
	}
	if !in.Price.Equal(in.Price.Round(2)) {
		return nil, fmt.Errorf("%w: price must have at most two decimal places", ErrInvalidInput)
	}

	now := s.now()
	svc := model.Service{
		ID:        uuid.NewString(),
		VendorID:  in.VendorID,
		Name:      name,
		Price:     in.Price,
		Status:    model.ServiceStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.CreateService(ctx, svc); err != nil {
		return nil, err
	}

	return &svc, nil
}

// ListServices возвращает услуги каталога. Неактивные услуги видят только их исполнитель и администратор.
func (s *Service) ListServices(ctx context.Context, r model.Requester, vendorID string, includeInactive bool) ([]model.Service, error) {
	if includeInactive && r.Role != model.RoleAdmin && (r.Role != model.RoleVendor || vendorID != r.ID) {
		return nil, &lifecycle.ForbiddenError{Reason: "inactive services are visible to their vendor only"}
	}
	return s.repo.ListServices(ctx, vendorID, includeInactive)
}

// UpdateServiceStatus включает или выключает продажу услуги.
func (s *Service) UpdateServiceStatus(ctx context.Context, r model.Requester, id string, status model.ServiceStatus) (*model.Service, error) {
	if status != model.ServiceStatusActive && status != model.ServiceStatusInactive {
		return nil, fmt.Errorf("%w: unknown service status %q", ErrInvalidInput, status)
	}

	svc, err := s.repo.GetService(ctx, id)
	if err != nil {
		return nil, err
	}

	if r.Role != model.RoleAdmin && (r.Role != model.RoleVendor || svc.VendorID != r.ID) {
		return nil, &lifecycle.ForbiddenError{Reason: "only the vendor or an administrator may change a service"}
	}

	now := s.now()
	if err := s.repo.UpdateServiceStatus(ctx, id, status, now); err != nil {
		return nil, err
	}

	svc.Status = status
	svc.UpdatedAt = now
	return svc, nil
}
