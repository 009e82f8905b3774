// Package monitor keeps production deployments running.
package monitor

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oestradiol/Voyager-Backend/internal/domain"
	"github.com/oestradiol/Voyager-Backend/internal/repository"
)

const (
	defaultTimeout = 30 * time.Second
	maxInFlight    = 4
)

// Containers is the slice of the container runtime the monitor needs.
type Containers interface {
	IsRunning(ctx context.Context, id string) (bool, error)
	RestartContainer(ctx context.Context, id string) error
}

// Controller restarts stopped production containers on a fixed interval.
type Controller struct {
	store      repository.DeploymentRepository
	containers Containers
	logger     *slog.Logger
	interval   time.Duration
	timeout    time.Duration
}

// New constructs a Controller. It returns nil when interval is not positive.
func New(store repository.DeploymentRepository, containers Containers, logger *slog.Logger, interval, timeout time.Duration) *Controller {
	if store == nil || containers == nil || interval <= 0 {
		return nil
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if timeout > interval {
		timeout = interval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		store:      store,
		containers: containers,
		logger:     logger.With("component", "monitor"),
		interval:   interval,
		timeout:    timeout,
	}
}

// Run checks deployments until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	if c == nil {
		return
	}
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.logger.Info("deployment monitor started", "interval", c.interval)
	c.runIteration(ctx)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("deployment monitor stopped")
			return
		case <-ticker.C:
			c.runIteration(ctx)
		}
	}
}

// runIteration returns how many containers were restarted.
func (c *Controller) runIteration(parent context.Context) int {
	ctx, cancel := context.WithTimeout(parent, c.timeout)
	defer cancel()

	deployments, err := c.store.ListDeployments(ctx, domain.Filter{})
	if err != nil {
		c.logger.Warn("failed to list deployments", "error", err)
		return 0
	}

	var restarted atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxInFlight)
	for _, d := range deployments {
		if d.Mode != domain.ModeProduction {
			continue
		}
		d := d
		g.Go(func() error {
			if c.check(gctx, d) {
				restarted.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(restarted.Load())
}

func (c *Controller) check(ctx context.Context, d domain.Deployment) bool {
	log := c.logger.With("deployment_id", d.ID, "host", d.Host, "container_id", d.ContainerID)
	running, err := c.containers.IsRunning(ctx, d.ContainerID)
	if err != nil {
		log.Warn("failed to inspect container", "error", err)
		return false
	}
	if running {
		return false
	}
	log.Warn("production container is not running, restarting")
	if err := c.containers.RestartContainer(ctx, d.ContainerID); err != nil {
		log.Error("failed to restart container", "error", err)
		return false
	}
	return true
}
