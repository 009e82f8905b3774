package deploy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/oestradiol/Voyager-Backend/internal/apperr"
	"github.com/oestradiol/Voyager-Backend/internal/domain"
)

var subdomainPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// ResolveHost composes the public hostname for subdomain under baseDomain.
// Preview hosts carry a "preview" label so they never shadow production ones.
func ResolveHost(subdomain string, mode domain.Mode, baseDomain string) (string, error) {
	baseDomain = strings.Trim(strings.ToLower(strings.TrimSpace(baseDomain)), ".")
	if baseDomain == "" {
		return "", apperr.Internal("base domain is not configured", nil)
	}
	sub := strings.ToLower(strings.TrimSpace(subdomain))
	if sub != "" && !subdomainPattern.MatchString(sub) {
		return "", apperr.Validation("invalid subdomain: use letters, digits and dashes, starting and ending with a letter or digit")
	}
	switch mode {
	case domain.ModeProduction:
		if sub == "" {
			return baseDomain, nil
		}
		return sub + "." + baseDomain, nil
	case domain.ModePreview:
		if sub == "" {
			return "preview." + baseDomain, nil
		}
		return sub + "-preview." + baseDomain, nil
	default:
		return "", apperr.Validation(fmt.Sprintf("invalid mode %q", mode))
	}
}

// ParseRepoRef splits "repo@branch". The branch is empty when none is given.
// An '@' followed by text containing ':' belongs to an ssh user, not a branch.
func ParseRepoRef(ref string) (repo, branch string, err error) {
	repo = strings.TrimSpace(ref)
	if i := strings.LastIndex(repo, "@"); i >= 0 && !strings.Contains(repo[i+1:], ":") {
		repo, branch = strings.TrimSpace(repo[:i]), strings.TrimSpace(repo[i+1:])
		if branch == "" {
			return "", "", apperr.Validation("branch after '@' cannot be empty")
		}
	}
	if repo == "" {
		return "", "", apperr.Validation("repository is required")
	}
	return repo, branch, nil
}

// ContainerName derives the container and image name from host.
func ContainerName(host string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(host)), ".", "-")
}

func normalizeBranch(branch string) string {
	if b := strings.TrimSpace(branch); b != "" {
		return b
	}
	return domain.DefaultBranch
}
