package tenant

import (
	"context"
	"errors"
)

var (
	ErrTenantNotFound      = errors.New("tenant not found")
	ErrTenantAlreadyExists = errors.New("tenant already exists")
	ErrInvalidTransition   = errors.New("invalid tenant status transition")
)

// Repository defines the interface for tenant metadata storage. The manager
// is the only writer; implementations must make Save atomic per tenant id.
type Repository interface {
	Get(ctx context.Context, id string) (*Info, error)
	Save(ctx context.Context, info *Info) error
	Delete(ctx context.Context, id string) error
	Exists(ctx context.Context, id string) (bool, error)
	List(ctx context.Context, status Status, limit, offset int) ([]*Info, error)
}
