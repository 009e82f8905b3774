package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oestradiol/Voyager-Backend/internal/apperr"
	"github.com/oestradiol/Voyager-Backend/internal/docker"
	"github.com/oestradiol/Voyager-Backend/internal/domain"
	"github.com/oestradiol/Voyager-Backend/internal/repository"
	"github.com/oestradiol/Voyager-Backend/internal/saga"
)

const (
	defaultCreateTimeout = 10 * time.Minute
	notifyTimeout        = 10 * time.Second
	publishHostIP        = "127.0.0.1"
)

// Request asks for a new deployment of RepoURL at Branch served on Host.
type Request struct {
	Host    string
	Mode    domain.Mode
	RepoURL string
	Branch  string
}

// Dependencies are the collaborators a Service drives. Events and Ports are optional.
type Dependencies struct {
	Source     SourceControl
	Workspace  Workspace
	Images     ImageBuilder
	Containers ContainerRuntime
	Names      NameService
	Notifier   Notifier
	Store      repository.DeploymentRepository
	Events     EventPublisher
	Ports      func() (uint16, error)
}

// Options tune a Service.
type Options struct {
	// HostIP is the address DNS records point at.
	HostIP string
	// CreateTimeout bounds how long Create waits for the saga. The saga itself keeps running.
	CreateTimeout time.Duration
}

// Service creates and tears down deployments.
type Service struct {
	source        SourceControl
	workspace     Workspace
	images        ImageBuilder
	containers    ContainerRuntime
	names         NameService
	notifier      Notifier
	store         repository.DeploymentRepository
	events        EventPublisher
	ports         func() (uint16, error)
	hostIP        string
	createTimeout time.Duration
	saga          *saga.Saga[State]
	metrics       *metrics
	logger        *slog.Logger
	now           func() time.Time

	mu       sync.Mutex
	draining bool
	inflight sync.WaitGroup
}

// New wires a deployment service.
func New(deps Dependencies, opts Options, logger *slog.Logger) (*Service, error) {
	switch {
	case deps.Source == nil:
		return nil, errors.New("deploy: source control is required")
	case deps.Workspace == nil:
		return nil, errors.New("deploy: workspace is required")
	case deps.Images == nil:
		return nil, errors.New("deploy: image builder is required")
	case deps.Containers == nil:
		return nil, errors.New("deploy: container runtime is required")
	case deps.Names == nil:
		return nil, errors.New("deploy: name service is required")
	case deps.Store == nil:
		return nil, errors.New("deploy: store is required")
	}
	if strings.TrimSpace(opts.HostIP) == "" {
		return nil, errors.New("deploy: host ip is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		source:        deps.Source,
		workspace:     deps.Workspace,
		images:        deps.Images,
		containers:    deps.Containers,
		names:         deps.Names,
		notifier:      deps.Notifier,
		store:         deps.Store,
		events:        deps.Events,
		ports:         deps.Ports,
		hostIP:        strings.TrimSpace(opts.HostIP),
		createTimeout: opts.CreateTimeout,
		metrics:       newMetrics(),
		logger:        logger,
		now:           time.Now,
	}
	if s.ports == nil {
		s.ports = freePort
	}
	if s.createTimeout <= 0 {
		s.createTimeout = defaultCreateTimeout
	}
	s.saga = saga.New("create_deployment", logger, s.steps()...)
	return s, nil
}

// Create provisions a deployment and returns the persisted record id. If ctx ends
// first, Create returns a timeout error while the saga finishes in the background.
func (s *Service) Create(ctx context.Context, req Request) (string, error) {
	host := strings.ToLower(strings.TrimSpace(req.Host))
	repoURL := strings.TrimSpace(req.RepoURL)
	if host == "" {
		return "", apperr.Validation("host is required")
	}
	if repoURL == "" {
		return "", apperr.Validation("repository is required")
	}
	if req.Mode != domain.ModePreview && req.Mode != domain.ModeProduction {
		return "", apperr.Validation(fmt.Sprintf("invalid mode %q", req.Mode))
	}

	state := &State{
		Host:          host,
		Mode:          req.Mode,
		RepoURL:       repoURL,
		Branch:        strings.TrimSpace(req.Branch),
		ContainerName: ContainerName(host),
	}
	log := s.logger.With("host", host, "container_name", state.ContainerName, "mode", string(req.Mode))

	if err := s.checkPreconditions(ctx, state); err != nil {
		s.metrics.deployment(req.Mode, "rejected")
		log.Info("deployment rejected", "reason", err.Error())
		return "", err
	}

	if !s.track() {
		return "", errDraining
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.createTimeout)
	defer cancel()

	log.Info("deployment started", "repo_url", repoURL, "branch", normalizeBranch(state.Branch))
	runner := s.saga.WithObserver(s.observe(host))
	done := make(chan error, 1)
	go func() {
		done <- runner.Run(context.WithoutCancel(ctx), state)
	}()

	select {
	case err := <-done:
		defer s.inflight.Done()
		return s.finish(ctx, log, state, err)
	case <-waitCtx.Done():
		log.Warn("deployment still running after caller stopped waiting", "error", waitCtx.Err())
		go func() {
			defer s.inflight.Done()
			_, _ = s.finish(context.WithoutCancel(ctx), log, state, <-done)
		}()
		return "", apperr.Wrap(apperr.KindTimeout, "deployment is still in progress", waitCtx.Err())
	}
}

var errDraining = apperr.New(apperr.KindUnavailable, "server is shutting down, try again later")

// track registers a saga run unless the service is draining.
func (s *Service) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return false
	}
	s.inflight.Add(1)
	return true
}

// Wait stops accepting new deployments and blocks until every running saga,
// including those whose callers already gave up, has finished or rolled back.
func (s *Service) Wait(ctx context.Context) error {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) finish(ctx context.Context, log *slog.Logger, state *State, err error) (string, error) {
	if err != nil {
		s.metrics.deployment(state.Mode, "rolled_back")
		s.publish(state.Host, Event{Host: state.Host, Phase: "rolled_back", Error: apperr.Message(err), At: s.now().UTC()})
		log.Error("deployment failed", "error", err)
		return "", err
	}
	s.metrics.deployment(state.Mode, "created")
	s.publish(state.Host, Event{Host: state.Host, Phase: "completed", DeploymentID: state.DeploymentID, At: s.now().UTC()})
	log.Info("deployment created", "deployment_id", state.DeploymentID, "container_id", state.ContainerID)
	s.notify(ctx, log, state)
	return state.DeploymentID, nil
}

func (s *Service) notify(ctx context.Context, log *slog.Logger, state *State) {
	if s.notifier == nil {
		return
	}
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := s.notifier.DeploymentCreated(notifyCtx, state.DeploymentID, state.ContainerName, state.Host, state.Mode); err != nil {
		log.Warn("deployment notification failed", "deployment_id", state.DeploymentID, "error", err)
	}
}

// Delete tears down the container, image and DNS record of a deployment before
// removing its record. The first failure aborts the remaining steps.
func (s *Service) Delete(ctx context.Context, id string) error {
	d, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	log := s.logger.With("deployment_id", d.ID, "host", d.Host, "container_id", d.ContainerID)

	running, err := s.containers.IsRunning(ctx, d.ContainerID)
	if err != nil && !errors.Is(err, docker.ErrNotFound) {
		return apperr.Internal("failed to inspect container", err)
	}
	if running {
		if err := s.containers.StopContainer(ctx, d.ContainerID); err != nil {
			return apperr.Internal("failed to stop container", err)
		}
	}
	if err := s.names.DeleteRecord(ctx, d.DNSRecordID); err != nil {
		return apperr.Internal("failed to delete DNS record", err)
	}
	if err := s.containers.RemoveContainer(ctx, d.ContainerID); err != nil {
		return apperr.Internal("failed to delete container", err)
	}
	if err := s.images.RemoveImage(ctx, d.ImageID); err != nil {
		return apperr.Internal("failed to delete image", err)
	}
	if err := s.store.DeleteDeployment(ctx, d.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.New(apperr.KindNotFound, "deployment not found")
		}
		return apperr.Internal("failed to delete deployment record", err)
	}
	s.metrics.deployment(d.Mode, "deleted")
	log.Info("deployment deleted")
	return nil
}

// Get returns a deployment by id.
func (s *Service) Get(ctx context.Context, id string) (*domain.Deployment, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperr.Validation("deployment id is required")
	}
	d, err := s.store.GetDeploymentByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "deployment not found")
		}
		return nil, apperr.Internal("failed to load deployment", err)
	}
	return d, nil
}

// List returns deployments matching filter.
func (s *Service) List(ctx context.Context, filter domain.Filter) ([]domain.Deployment, error) {
	deployments, err := s.store.ListDeployments(ctx, filter)
	if err != nil {
		return nil, apperr.Internal("failed to list deployments", err)
	}
	return deployments, nil
}

// Logs returns the container output of a deployment.
func (s *Service) Logs(ctx context.Context, id string) ([]string, error) {
	d, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	lines, err := s.containers.ContainerLogs(ctx, d.ContainerID)
	if err != nil {
		if errors.Is(err, docker.ErrNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "container not found")
		}
		return nil, apperr.Internal("failed to read container logs", err)
	}
	return lines, nil
}

// Restart restarts the container of a deployment.
func (s *Service) Restart(ctx context.Context, id string) error {
	d, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.containers.RestartContainer(ctx, d.ContainerID); err != nil {
		if errors.Is(err, docker.ErrNotFound) {
			return apperr.New(apperr.KindNotFound, "container not found")
		}
		return apperr.Internal("failed to restart container", err)
	}
	s.logger.Info("deployment restarted", "deployment_id", d.ID, "container_id", d.ContainerID)
	return nil
}
