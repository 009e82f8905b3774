package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oestradiol/Voyager-Backend/internal/domain"
	"github.com/oestradiol/Voyager-Backend/internal/repository"
)

const deploymentColumns = `id, container_id, dns_record_id, container_name, image_id, internal_port, host_port, mode, host, repo_url, branch, created_at`

// Repository implements DeploymentRepository on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, now: time.Now}
}

var _ repository.DeploymentRepository = (*Repository)(nil)

// InsertDeployment stores the record and returns the generated identifier.
func (r *Repository) InsertDeployment(ctx context.Context, d *domain.Deployment) (string, error) {
	id := uuid.NewString()
	createdAt := r.now().UTC()
	const query = `INSERT INTO deployments (` + deploymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := r.pool.Exec(ctx, query,
		id, d.ContainerID, d.DNSRecordID, d.ContainerName, d.ImageID,
		int32(d.InternalPort), int32(d.HostPort), string(d.Mode), d.Host, d.RepoURL, d.Branch, createdAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return "", fmt.Errorf("insert deployment %s: %w", d.ContainerName, repository.ErrDuplicate)
		}
		return "", fmt.Errorf("insert deployment: %w", err)
	}
	d.ID = id
	d.CreatedAt = createdAt
	return id, nil
}

// DeleteDeployment removes a record by identifier.
func (r *Repository) DeleteDeployment(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return repository.ErrNotFound
	}
	const query = `DELETE FROM deployments WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete deployment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// GetDeploymentByID fetches a deployment by identifier.
func (r *Repository) GetDeploymentByID(ctx context.Context, id string) (*domain.Deployment, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, repository.ErrNotFound
	}
	const query = `SELECT ` + deploymentColumns + ` FROM deployments WHERE id = $1`
	return r.getOne(ctx, query, id)
}

// GetDeploymentByHost fetches the deployment serving host.
func (r *Repository) GetDeploymentByHost(ctx context.Context, host string) (*domain.Deployment, error) {
	const query = `SELECT ` + deploymentColumns + ` FROM deployments WHERE host = $1 LIMIT 1`
	return r.getOne(ctx, query, host)
}

// GetDeploymentByName fetches the deployment owning containerName.
func (r *Repository) GetDeploymentByName(ctx context.Context, containerName string) (*domain.Deployment, error) {
	const query = `SELECT ` + deploymentColumns + ` FROM deployments WHERE container_name = $1`
	return r.getOne(ctx, query, containerName)
}

// GetDeploymentByRepoBranch fetches the first deployment built from repoURL at branch.
func (r *Repository) GetDeploymentByRepoBranch(ctx context.Context, repoURL, branch string) (*domain.Deployment, error) {
	const query = `SELECT ` + deploymentColumns + ` FROM deployments
		WHERE repo_url = $1 AND branch = $2 ORDER BY created_at ASC LIMIT 1`
	return r.getOne(ctx, query, repoURL, branch)
}

// ListDeployments returns deployments matching filter, newest first.
func (r *Repository) ListDeployments(ctx context.Context, filter domain.Filter) ([]domain.Deployment, error) {
	var (
		clauses []string
		args    []any
	)
	if v := strings.TrimSpace(filter.RepoURL); v != "" {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf("repo_url = $%d", len(args)))
	}
	if v := strings.TrimSpace(filter.Branch); v != "" {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf("branch = $%d", len(args)))
	}
	query := `SELECT ` + deploymentColumns + ` FROM deployments`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	defer rows.Close()

	deployments := make([]domain.Deployment, 0)
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		deployments = append(deployments, *d)
	}
	return deployments, rows.Err()
}

// Ping checks connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *Repository) getOne(ctx context.Context, query string, args ...any) (*domain.Deployment, error) {
	d, err := scanDeployment(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return d, nil
}

func scanDeployment(row pgx.Row) (*domain.Deployment, error) {
	var (
		d            domain.Deployment
		internalPort int32
		hostPort     int32
		mode         string
	)
	if err := row.Scan(&d.ID, &d.ContainerID, &d.DNSRecordID, &d.ContainerName, &d.ImageID,
		&internalPort, &hostPort, &mode, &d.Host, &d.RepoURL, &d.Branch, &d.CreatedAt); err != nil {
		return nil, err
	}
	d.InternalPort = uint16(internalPort)
	d.HostPort = uint16(hostPort)
	d.Mode = domain.Mode(mode)
	return &d, nil
}
