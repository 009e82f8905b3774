package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/oestradiol/Voyager-Backend/internal/domain"
	"github.com/oestradiol/Voyager-Backend/internal/service/deploy"
)

// createQuery is the query string of a creation request.
type createQuery struct {
	Mode      string `query:"mode" validate:"required,oneof=preview production"`
	RepoURL   string `query:"repoUrl" validate:"required,max=512"`
	Subdomain string `query:"subdomain" validate:"omitempty,max=63"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("query"); name != "" {
			return name
		}
		return f.Name
	})
	return v
}

// validationMessages flattens validator output into one line per field.
func validationMessages(err error) []string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []string{err.Error()}
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Field()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", fe.Field()))
		}
	}
	return msgs
}

func (r *Router) handleCreate(w http.ResponseWriter, req *http.Request) {
	query := req.URL.Query()
	q := createQuery{
		Mode:      strings.ToLower(strings.TrimSpace(query.Get("mode"))),
		RepoURL:   strings.TrimSpace(query.Get("repoUrl")),
		Subdomain: strings.TrimSpace(query.Get("subdomain")),
	}
	if err := r.validate.Struct(q); err != nil {
		writeError(w, http.StatusBadRequest, validationMessages(err)...)
		return
	}
	mode, err := domain.ParseMode(q.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	repo, branch, err := deploy.ParseRepoRef(q.RepoURL)
	if err != nil {
		writeAppError(w, err)
		return
	}
	host, err := deploy.ResolveHost(q.Subdomain, mode, r.baseDomain)
	if err != nil {
		writeAppError(w, err)
		return
	}
	id, err := r.deployments.Create(req.Context(), deploy.Request{
		Host:    host,
		Mode:    mode,
		RepoURL: repo,
		Branch:  branch,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, "Deployment created", map[string]any{"id": id, "host": host})
}

func (r *Router) handleList(w http.ResponseWriter, req *http.Request) {
	query := req.URL.Query()
	filter := domain.Filter{
		RepoURL: strings.TrimSpace(query.Get("repoUrl")),
		Branch:  strings.TrimSpace(query.Get("branch")),
	}
	deployments, err := r.deployments.List(req.Context(), filter)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if deployments == nil {
		deployments = []domain.Deployment{}
	}
	writeJSON(w, http.StatusOK, "Deployments listed", map[string]any{"deployments": deployments})
}

func (r *Router) handleGet(w http.ResponseWriter, req *http.Request) {
	d, err := r.deployments.Get(req.Context(), req.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, "Deployment found", map[string]any{"deployment": d})
}

func (r *Router) handleDelete(w http.ResponseWriter, req *http.Request) {
	if err := r.deployments.Delete(req.Context(), req.PathValue("id")); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, "Deployment deleted", nil)
}

func (r *Router) handleLogs(w http.ResponseWriter, req *http.Request) {
	lines, err := r.deployments.Logs(req.Context(), req.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	if lines == nil {
		lines = []string{}
	}
	writeJSON(w, http.StatusOK, "Deployment logs retrieved", map[string]any{"deploymentLogs": lines})
}

func (r *Router) handleRestart(w http.ResponseWriter, req *http.Request) {
	if err := r.deployments.Restart(req.Context(), req.PathValue("id")); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, "Deployment restarted", nil)
}
