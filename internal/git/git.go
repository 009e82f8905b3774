// Package git fetches deployment sources with go-git.
package git

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
)

var (
	// ErrInvalidRepository is returned for empty or malformed repository references.
	ErrInvalidRepository = errors.New("git: invalid repository reference")
	// ErrBranchNotFound is returned when the requested branch does not exist on the remote.
	ErrBranchNotFound = errors.New("git: branch not found")
)

// Cloner performs shallow single-branch clones.
type Cloner struct {
	baseURL  string
	username string
	token    string
}

// NewCloner returns a Cloner. baseURL prefixes repository references that are not
// full URLs, and username/token enable HTTP basic auth when token is set.
func NewCloner(baseURL, username, token string) *Cloner {
	return &Cloner{
		baseURL:  strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		username: strings.TrimSpace(username),
		token:    strings.TrimSpace(token),
	}
}

// Clone fetches repo at branch into dest. An empty branch clones the remote HEAD.
func (c *Cloner) Clone(ctx context.Context, repo, branch, dest string) error {
	if strings.TrimSpace(dest) == "" {
		return fmt.Errorf("destination cannot be empty")
	}
	url, err := c.ResolveURL(repo)
	if err != nil {
		return err
	}

	opts := &gogit.CloneOptions{
		URL:          url,
		Depth:        1,
		SingleBranch: true,
		Tags:         gogit.NoTags,
	}
	if branch = strings.TrimSpace(branch); branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(branch)
	}
	if auth := c.auth(); auth != nil {
		opts.Auth = auth
	}

	if _, err := gogit.PlainCloneContext(ctx, dest, false, opts); err != nil {
		if branch != "" && isMissingRef(err) {
			return fmt.Errorf("%w: %s", ErrBranchNotFound, branch)
		}
		return fmt.Errorf("git clone %s: %w", url, err)
	}
	return nil
}

// ResolveURL expands "org/repo" style references against the base URL.
func (c *Cloner) ResolveURL(repo string) (string, error) {
	repo = strings.TrimSpace(repo)
	if repo == "" || strings.HasPrefix(repo, "/") || strings.Contains(repo, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidRepository, repo)
	}
	if strings.Contains(repo, "://") || strings.HasPrefix(repo, "git@") {
		return repo, nil
	}
	if c.baseURL == "" {
		return "", fmt.Errorf("%w: %q has no scheme and no base url is configured", ErrInvalidRepository, repo)
	}
	return c.baseURL + "/" + strings.TrimSuffix(repo, ".git") + ".git", nil
}

func (c *Cloner) auth() transport.AuthMethod {
	if c.token == "" {
		return nil
	}
	username := c.username
	if username == "" {
		username = "git"
	}
	return &http.BasicAuth{Username: username, Password: c.token}
}

func isMissingRef(err error) bool {
	var noMatch gogit.NoMatchingRefSpecError
	if errors.As(err, &noMatch) {
		return true
	}
	return errors.Is(err, plumbing.ErrReferenceNotFound)
}
