package mongodb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/oestradiol/Voyager-Backend/internal/domain"
	"github.com/oestradiol/Voyager-Backend/internal/repository"
)

const collectionName = "deployments"

type deploymentDocument struct {
	ID            primitive.ObjectID `bson:"_id,omitempty"`
	ContainerID   string             `bson:"container_id"`
	DNSRecordID   string             `bson:"dns_record_id"`
	ContainerName string             `bson:"container_name"`
	ImageID       string             `bson:"image_id"`
	InternalPort  int32              `bson:"internal_port"`
	HostPort      int32              `bson:"host_port"`
	Mode          string             `bson:"mode"`
	Host          string             `bson:"host"`
	RepoURL       string             `bson:"repo_url"`
	Branch        string             `bson:"branch"`
	CreatedAt     time.Time          `bson:"created_at"`
}

func (d deploymentDocument) toDomain() domain.Deployment {
	return domain.Deployment{
		ID:            d.ID.Hex(),
		ContainerID:   d.ContainerID,
		DNSRecordID:   d.DNSRecordID,
		ContainerName: d.ContainerName,
		ImageID:       d.ImageID,
		InternalPort:  uint16(d.InternalPort),
		HostPort:      uint16(d.HostPort),
		Mode:          domain.Mode(d.Mode),
		Host:          d.Host,
		RepoURL:       d.RepoURL,
		Branch:        d.Branch,
		CreatedAt:     d.CreatedAt,
	}
}

// Repository implements DeploymentRepository on a MongoDB collection.
type Repository struct {
	client *mongo.Client
	coll   *mongo.Collection
	now    func() time.Time
}

// Connect dials uri and prepares the deployments collection in database.
func Connect(ctx context.Context, uri, database string) (*Repository, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	repo := &Repository{
		client: client,
		coll:   client.Database(database).Collection(collectionName),
		now:    time.Now,
	}
	if err := repo.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return repo, nil
}

var _ repository.DeploymentRepository = (*Repository)(nil)

func (r *Repository) ensureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "container_name", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "host", Value: 1}}},
		{Keys: bson.D{{Key: "repo_url", Value: 1}, {Key: "branch", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create mongo indexes: %w", err)
	}
	return nil
}

// InsertDeployment stores the record and returns the generated identifier.
func (r *Repository) InsertDeployment(ctx context.Context, d *domain.Deployment) (string, error) {
	doc := deploymentDocument{
		ID:            primitive.NewObjectID(),
		ContainerID:   d.ContainerID,
		DNSRecordID:   d.DNSRecordID,
		ContainerName: d.ContainerName,
		ImageID:       d.ImageID,
		InternalPort:  int32(d.InternalPort),
		HostPort:      int32(d.HostPort),
		Mode:          string(d.Mode),
		Host:          d.Host,
		RepoURL:       d.RepoURL,
		Branch:        d.Branch,
		CreatedAt:     r.now().UTC(),
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", fmt.Errorf("insert deployment %s: %w", d.ContainerName, repository.ErrDuplicate)
		}
		return "", fmt.Errorf("insert deployment: %w", err)
	}
	d.ID = doc.ID.Hex()
	d.CreatedAt = doc.CreatedAt
	return d.ID, nil
}

// DeleteDeployment removes a record by identifier.
func (r *Repository) DeleteDeployment(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return repository.ErrNotFound
	}
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return fmt.Errorf("delete deployment: %w", err)
	}
	if res.DeletedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// GetDeploymentByID fetches a deployment by identifier.
func (r *Repository) GetDeploymentByID(ctx context.Context, id string) (*domain.Deployment, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, repository.ErrNotFound
	}
	return r.findOne(ctx, bson.M{"_id": oid})
}

// GetDeploymentByHost fetches the deployment serving host.
func (r *Repository) GetDeploymentByHost(ctx context.Context, host string) (*domain.Deployment, error) {
	return r.findOne(ctx, bson.M{"host": host})
}

// GetDeploymentByName fetches the deployment owning containerName.
func (r *Repository) GetDeploymentByName(ctx context.Context, containerName string) (*domain.Deployment, error) {
	return r.findOne(ctx, bson.M{"container_name": containerName})
}

// GetDeploymentByRepoBranch fetches the first deployment built from repoURL at branch.
func (r *Repository) GetDeploymentByRepoBranch(ctx context.Context, repoURL, branch string) (*domain.Deployment, error) {
	return r.findOne(ctx, bson.M{"repo_url": repoURL, "branch": branch})
}

// ListDeployments returns deployments matching filter, newest first.
func (r *Repository) ListDeployments(ctx context.Context, filter domain.Filter) ([]domain.Deployment, error) {
	query := bson.M{}
	if v := strings.TrimSpace(filter.RepoURL); v != "" {
		query["repo_url"] = v
	}
	if v := strings.TrimSpace(filter.Branch); v != "" {
		query["branch"] = v
	}
	cursor, err := r.coll.Find(ctx, query, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	defer cursor.Close(ctx)

	deployments := make([]domain.Deployment, 0)
	for cursor.Next(ctx) {
		var doc deploymentDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode deployment: %w", err)
		}
		deployments = append(deployments, doc.toDomain())
	}
	return deployments, cursor.Err()
}

// Ping checks connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client.
func (r *Repository) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}

func (r *Repository) findOne(ctx context.Context, filter bson.M) (*domain.Deployment, error) {
	var doc deploymentDocument
	if err := r.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	d := doc.toDomain()
	return &d, nil
}
