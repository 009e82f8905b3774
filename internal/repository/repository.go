package repository

import (
	"context"

	"github.com/oestradiol/Voyager-Backend/internal/domain"
)

// DeploymentRepository persists deployment records. Finders return ErrNotFound when
// nothing matches.
type DeploymentRepository interface {
	InsertDeployment(ctx context.Context, deployment *domain.Deployment) (string, error)
	DeleteDeployment(ctx context.Context, id string) error
	GetDeploymentByID(ctx context.Context, id string) (*domain.Deployment, error)
	GetDeploymentByHost(ctx context.Context, host string) (*domain.Deployment, error)
	GetDeploymentByName(ctx context.Context, containerName string) (*domain.Deployment, error)
	GetDeploymentByRepoBranch(ctx context.Context, repoURL, branch string) (*domain.Deployment, error)
	ListDeployments(ctx context.Context, filter domain.Filter) ([]domain.Deployment, error)
	Ping(ctx context.Context) error
}
