package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Service is a registered sender. Subscription keys are stored as bcrypt
// hashes; the plaintext is only ever returned at creation or rotation.
type Service struct {
	ID               string
	Name             string
	OrganizationName string
	DepartmentName   string
	PrimaryKeyHash   string
	SecondaryKeyHash string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// CreateService inserts a service row.
func (s *Store) CreateService(ctx context.Context, service Service) error {
	if service.ID == "" {
		return fmt.Errorf("service id is required")
	}
	if service.Name == "" {
		return fmt.Errorf("service name is required")
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO services (id, name, organization_name, department_name, primary_key_hash, secondary_key_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		service.ID, service.Name, service.OrganizationName, service.DepartmentName,
		service.PrimaryKeyHash, service.SecondaryKeyHash, now, now)
	if err != nil {
		return fmt.Errorf("creating service %s: %w", service.ID, err)
	}
	return nil
}

// GetService returns one service, or ErrNotFound.
func (s *Store) GetService(ctx context.Context, id string) (Service, error) {
	var service Service
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, organization_name, department_name, primary_key_hash, secondary_key_hash, created_at, updated_at
		FROM services WHERE id = ?`, id).Scan(
		&service.ID, &service.Name, &service.OrganizationName, &service.DepartmentName,
		&service.PrimaryKeyHash, &service.SecondaryKeyHash, &service.CreatedAt, &service.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return service, ErrNotFound
	}
	if err != nil {
		return service, fmt.Errorf("loading service %s: %w", id, err)
	}
	return service, nil
}

// UpdateServiceKeys replaces both subscription key hashes.
func (s *Store) UpdateServiceKeys(ctx context.Context, id, primaryHash, secondaryHash string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE services SET primary_key_hash = ?, secondary_key_hash = ?, updated_at = ? WHERE id = ?`,
		primaryHash, secondaryHash, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating keys for service %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating keys for service %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("updating keys for service %s: %w", id, ErrNotFound)
	}
	return nil
}
