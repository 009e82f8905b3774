package deploy

import (
	"context"
	"errors"

	"github.com/oestradiol/Voyager-Backend/internal/apperr"
	"github.com/oestradiol/Voyager-Backend/internal/domain"
	"github.com/oestradiol/Voyager-Backend/internal/repository"
)

const (
	reasonSubdomainInUse       = "subdomain already in use"
	reasonProductionRepoExists = "production deployment already exists for this repo+branch"
)

// checkPreconditions rejects requests that collide with an existing deployment.
// It is advisory: a concurrent request can still collide at insert time, which
// then fails the persist step and rolls back.
func (s *Service) checkPreconditions(ctx context.Context, st *State) error {
	taken, err := s.exists(ctx, func(ctx context.Context) (*domain.Deployment, error) {
		return s.store.GetDeploymentByName(ctx, st.ContainerName)
	})
	if err != nil {
		return err
	}
	if taken {
		return apperr.Validation(reasonSubdomainInUse)
	}

	if st.Mode != domain.ModeProduction {
		return nil
	}
	taken, err = s.exists(ctx, func(ctx context.Context) (*domain.Deployment, error) {
		return s.store.GetDeploymentByRepoBranch(ctx, st.RepoURL, normalizeBranch(st.Branch))
	})
	if err != nil {
		return err
	}
	if taken {
		return apperr.Validation(reasonProductionRepoExists)
	}
	return nil
}

func (s *Service) exists(ctx context.Context, find func(context.Context) (*domain.Deployment, error)) (bool, error) {
	_, err := find(ctx)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, repository.ErrNotFound):
		return false, nil
	default:
		return false, apperr.Internal("failed to check existing deployments", err)
	}
}
