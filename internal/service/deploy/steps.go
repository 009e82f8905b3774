package deploy

import (
	"context"
	"errors"

	"github.com/oestradiol/Voyager-Backend/internal/apperr"
	"github.com/oestradiol/Voyager-Backend/internal/domain"
	"github.com/oestradiol/Voyager-Backend/internal/git"
	"github.com/oestradiol/Voyager-Backend/internal/repository"
	"github.com/oestradiol/Voyager-Backend/internal/saga"
	"github.com/oestradiol/Voyager-Backend/internal/workspace"
)

// Step names, in execution order.
const (
	StepClone           = "clone"
	StepPackage         = "package"
	StepBuildImage      = "build_image"
	StepCreateContainer = "create_container"
	StepStartContainer  = "start_container"
	StepRegisterName    = "register_name"
	StepPersist         = "persist"
)

var extraHosts = []string{"host.docker.internal:host-gateway"}

// State is the data one creation saga accumulates. The request fields are set
// before the saga starts; every other field is written once, by the step noted.
type State struct {
	Host          string
	Mode          domain.Mode
	RepoURL       string
	Branch        string
	ContainerName string

	WorkDir      string // clone
	Tarball      string // package
	ImageID      string // build_image
	InternalPort uint16 // build_image
	ContainerID  string // create_container
	HostPort     uint16 // create_container
	DNSRecordID  string // register_name
	DeploymentID string // persist
}

func (s *Service) steps() []saga.Step[State] {
	return []saga.Step[State]{
		{Name: StepClone, Execute: s.cloneSource, Compensate: s.removeWorkDir},
		{Name: StepPackage, Execute: s.packageSource, Compensate: s.removeTarball},
		{Name: StepBuildImage, Execute: s.buildImage, Compensate: s.removeImage},
		{Name: StepCreateContainer, Execute: s.createContainer, Compensate: s.removeContainer},
		{Name: StepStartContainer, Execute: s.startContainer, Compensate: s.stopContainer},
		{Name: StepRegisterName, Execute: s.registerName, Compensate: s.deleteName},
		{Name: StepPersist, Execute: s.persist, Compensate: s.unpersist},
	}
}

func (s *Service) cloneSource(ctx context.Context, st *State) error {
	dir, err := s.workspace.NewDir(st.RepoURL, normalizeBranch(st.Branch))
	if err != nil {
		return apperr.Internal("failed to prepare working directory", err)
	}
	if err := s.source.Clone(ctx, st.RepoURL, st.Branch, dir); err != nil {
		if rmErr := s.workspace.Remove(dir); rmErr != nil {
			s.logger.Warn("failed to remove partial clone", "dir", dir, "error", rmErr)
		}
		if errors.Is(err, git.ErrBranchNotFound) || errors.Is(err, git.ErrInvalidRepository) {
			return apperr.Wrap(apperr.KindValidation, "repository or branch not found", err)
		}
		return apperr.Internal("failed to clone repository", err)
	}
	st.WorkDir = dir
	return nil
}

func (s *Service) removeWorkDir(_ context.Context, st *State) error {
	return s.workspace.Remove(st.WorkDir)
}

func (s *Service) packageSource(_ context.Context, st *State) error {
	tarball, err := s.workspace.Archive(st.WorkDir)
	if err != nil {
		return apperr.Internal("failed to package repository", err)
	}
	st.Tarball = tarball
	return nil
}

func (s *Service) removeTarball(_ context.Context, st *State) error {
	return s.workspace.Remove(st.Tarball)
}

func (s *Service) buildImage(ctx context.Context, st *State) error {
	dockerfile, err := s.workspace.ReadFile(st.Tarball, "Dockerfile")
	if err != nil {
		if errors.Is(err, workspace.ErrFileNotInArchive) {
			return apperr.Wrap(apperr.KindValidation, "repository has no Dockerfile", err)
		}
		return apperr.Internal("failed to read Dockerfile", err)
	}
	port, err := FindInternalPort(string(dockerfile))
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, "Dockerfile must EXPOSE a valid port", err)
	}
	labels := traefikLabels(st.ContainerName, st.Host, port)
	id, err := s.images.BuildImage(ctx, st.Tarball, imageTag(st.ContainerName), labels, extraHosts)
	if err != nil {
		return apperr.Internal("failed to build image", err)
	}
	st.ImageID = id
	st.InternalPort = port
	return nil
}

func (s *Service) removeImage(ctx context.Context, st *State) error {
	return s.images.RemoveImage(ctx, st.ImageID)
}

func (s *Service) createContainer(ctx context.Context, st *State) error {
	if err := s.workspace.Remove(st.WorkDir); err != nil {
		return apperr.Internal("failed to remove working directory", err)
	}
	if err := s.workspace.Remove(st.Tarball); err != nil {
		return apperr.Internal("failed to remove tarball", err)
	}
	hostPort, err := s.ports()
	if err != nil {
		return apperr.Internal("failed to allocate host port", err)
	}
	binding := domain.PortBinding{InternalPort: st.InternalPort, HostIP: publishHostIP, HostPort: hostPort}
	id, err := s.containers.CreateContainer(ctx, st.ContainerName, st.ImageID, binding)
	if err != nil {
		return apperr.Internal("failed to create container", err)
	}
	st.ContainerID = id
	st.HostPort = hostPort
	return nil
}

func (s *Service) removeContainer(ctx context.Context, st *State) error {
	return s.containers.RemoveContainer(ctx, st.ContainerID)
}

func (s *Service) startContainer(ctx context.Context, st *State) error {
	if err := s.containers.StartContainer(ctx, st.ContainerID); err != nil {
		return apperr.Internal("failed to start container", err)
	}
	return nil
}

func (s *Service) stopContainer(ctx context.Context, st *State) error {
	return s.containers.StopContainer(ctx, st.ContainerID)
}

func (s *Service) registerName(ctx context.Context, st *State) error {
	id, err := s.names.AddRecord(ctx, st.Host, s.hostIP, st.Mode)
	if err != nil {
		return apperr.Internal("failed to create DNS record", err)
	}
	st.DNSRecordID = id
	return nil
}

func (s *Service) deleteName(ctx context.Context, st *State) error {
	return s.names.DeleteRecord(ctx, st.DNSRecordID)
}

func (s *Service) persist(ctx context.Context, st *State) error {
	record := &domain.Deployment{
		ContainerID:   st.ContainerID,
		DNSRecordID:   st.DNSRecordID,
		ContainerName: st.ContainerName,
		ImageID:       st.ImageID,
		InternalPort:  st.InternalPort,
		HostPort:      st.HostPort,
		Mode:          st.Mode,
		Host:          st.Host,
		RepoURL:       st.RepoURL,
		Branch:        normalizeBranch(st.Branch),
	}
	id, err := s.store.InsertDeployment(ctx, record)
	switch {
	case errors.Is(err, repository.ErrDuplicate):
		return apperr.Wrap(apperr.KindConflict, "a deployment with this name already exists", err)
	case err != nil:
		return apperr.Internal("failed to save deployment", err)
	}
	if id == "" {
		// The row exists but its id was lost; find it by its unique name so
		// rollback can remove it.
		saved, lookupErr := s.store.GetDeploymentByName(ctx, st.ContainerName)
		if lookupErr != nil || saved.ID == "" {
			return apperr.Internal("failed to save deployment", errors.Join(errors.New("store returned an empty id"), lookupErr))
		}
		id = saved.ID
	}
	st.DeploymentID = id
	return nil
}

func (s *Service) unpersist(ctx context.Context, st *State) error {
	return s.store.DeleteDeployment(ctx, st.DeploymentID)
}
