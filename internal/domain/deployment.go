package domain

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects how a deployment is exposed.
type Mode string

const (
	ModePreview    Mode = "preview"
	ModeProduction Mode = "production"
)

// DefaultBranch is recorded when a request does not name a branch.
const DefaultBranch = "default"

// ParseMode accepts either mode name, case-insensitively.
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModePreview:
		return ModePreview, nil
	case ModeProduction:
		return ModeProduction, nil
	default:
		return "", fmt.Errorf("unknown deployment mode %q", raw)
	}
}

// Title renders the mode the way it appears in DNS comments and notifications.
func (m Mode) Title() string {
	switch m {
	case ModeProduction:
		return "Production"
	case ModePreview:
		return "Preview"
	default:
		return string(m)
	}
}

// Deployment is the persisted record of a fully provisioned deployment.
// Records are written once and never updated.
type Deployment struct {
	ID            string    `json:"id"`
	ContainerID   string    `json:"containerId"`
	DNSRecordID   string    `json:"dnsRecordId"`
	ContainerName string    `json:"containerName"`
	ImageID       string    `json:"imageId"`
	InternalPort  uint16    `json:"internalPort"`
	HostPort      uint16    `json:"hostPort"`
	Mode          Mode      `json:"mode"`
	Host          string    `json:"host"`
	RepoURL       string    `json:"repoUrl"`
	Branch        string    `json:"branch"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Filter narrows deployment listings. Empty fields match everything.
type Filter struct {
	RepoURL string
	Branch  string
}

// PortBinding publishes a container port on the host.
type PortBinding struct {
	InternalPort uint16
	HostIP       string
	HostPort     uint16
}
