package deploy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/oestradiol/Voyager-Backend/internal/domain"
	"github.com/oestradiol/Voyager-Backend/internal/repository"
	"github.com/oestradiol/Voyager-Backend/internal/workspace"
)

type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, fmt.Sprintf(format, args...))
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

func (j *journal) count(prefix string) int {
	n := 0
	for _, e := range j.list() {
		if strings.HasPrefix(e, prefix) {
			n++
		}
	}
	return n
}

type fakeSource struct {
	t       *testing.T
	j       *journal
	err     error
	release chan struct{}
}

func (f *fakeSource) Clone(ctx context.Context, repo, branch, dest string) error {
	if repo == "" || dest == "" {
		f.t.Errorf("clone called with repo=%q dest=%q", repo, dest)
	}
	f.j.add("clone %s@%s", repo, branch)
	if f.release != nil {
		<-f.release
	}
	return f.err
}

type fakeWorkspace struct {
	t          *testing.T
	j          *journal
	mu         sync.Mutex
	live       map[string]bool
	removals   map[string]int
	dockerfile string
	archiveErr error
	seq        int
}

func newFakeWorkspace(t *testing.T, j *journal) *fakeWorkspace {
	return &fakeWorkspace{
		t:          t,
		j:          j,
		live:       map[string]bool{},
		removals:   map[string]int{},
		dockerfile: "FROM node:20\nWORKDIR /app\nEXPOSE 3000\nCMD [\"node\", \"index.js\"]\n",
	}
}

func (f *fakeWorkspace) NewDir(repo, branch string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	dir := fmt.Sprintf("/work/%s_%s_%d", strings.ReplaceAll(repo, "/", "_"), branch, f.seq)
	f.live[dir] = true
	f.j.add("mkdir %s", dir)
	return dir, nil
}

func (f *fakeWorkspace) Archive(dir string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.live[dir] {
		f.t.Errorf("archive of missing dir %q", dir)
	}
	if f.archiveErr != nil {
		return "", f.archiveErr
	}
	tarball := dir + ".tar"
	f.live[tarball] = true
	f.j.add("archive %s", dir)
	return tarball, nil
}

func (f *fakeWorkspace) ReadFile(tarball, name string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.live[tarball] {
		f.t.Errorf("read from missing tarball %q", tarball)
	}
	if name != "Dockerfile" || f.dockerfile == "" {
		return nil, workspace.ErrFileNotInArchive
	}
	return []byte(f.dockerfile), nil
}

func (f *fakeWorkspace) Remove(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if path == "" {
		return nil
	}
	if f.live[path] {
		delete(f.live, path)
		f.removals[path]++
		f.j.add("rm %s", path)
	}
	return nil
}

func (f *fakeWorkspace) livePaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var paths []string
	for p := range f.live {
		paths = append(paths, p)
	}
	return paths
}

type fakeImages struct {
	t        *testing.T
	j        *journal
	mu       sync.Mutex
	err      error
	live     map[string]bool
	labels   map[string]string
	removeFn func(string) error
}

func (f *fakeImages) BuildImage(_ context.Context, archivePath, tag string, labels map[string]string, _ []string) (string, error) {
	if archivePath == "" || tag == "" {
		f.t.Errorf("build called with archive=%q tag=%q", archivePath, tag)
	}
	f.j.add("build %s", tag)
	if f.err != nil {
		return "", f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.labels = labels
	f.live["sha256:img"] = true
	return "sha256:img", nil
}

func (f *fakeImages) RemoveImage(_ context.Context, id string) error {
	f.j.add("rmi %s", id)
	if f.removeFn != nil {
		if err := f.removeFn(id); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.live, id)
	return nil
}

type fakeContainers struct {
	t         *testing.T
	j         *journal
	mu        sync.Mutex
	createErr error
	startErr  error
	stopErr   error
	live      map[string]bool
	running   map[string]bool
	binding   domain.PortBinding
	logs      []string
}

func (f *fakeContainers) CreateContainer(_ context.Context, name, image string, binding domain.PortBinding) (string, error) {
	if name == "" || image == "" || binding.InternalPort == 0 || binding.HostPort == 0 {
		f.t.Errorf("create called with name=%q image=%q binding=%+v", name, image, binding)
	}
	f.j.add("create %s", name)
	if f.createErr != nil {
		return "", f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.binding = binding
	f.live["ctr-1"] = true
	return "ctr-1", nil
}

func (f *fakeContainers) StartContainer(_ context.Context, id string) error {
	f.j.add("start %s", id)
	if f.startErr != nil {
		return f.startErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[id] = true
	return nil
}

func (f *fakeContainers) StopContainer(_ context.Context, id string) error {
	f.j.add("stop %s", id)
	if f.stopErr != nil {
		return f.stopErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.running, id)
	return nil
}

func (f *fakeContainers) RestartContainer(_ context.Context, id string) error {
	f.j.add("restart %s", id)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[id] = true
	return nil
}

func (f *fakeContainers) RemoveContainer(_ context.Context, id string) error {
	f.j.add("rm-container %s", id)
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.live, id)
	delete(f.running, id)
	return nil
}

func (f *fakeContainers) IsRunning(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[id], nil
}

func (f *fakeContainers) ContainerLogs(_ context.Context, id string) ([]string, error) {
	f.j.add("logs %s", id)
	return f.logs, nil
}

type fakeNames struct {
	j         *journal
	mu        sync.Mutex
	err       error
	deleteErr error
	live      map[string]bool
	lastIP    string
}

func (f *fakeNames) AddRecord(_ context.Context, host, ip string, mode domain.Mode) (string, error) {
	f.j.add("dns-add %s %s", host, mode)
	if f.err != nil {
		return "", f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastIP = ip
	f.live["rec-1"] = true
	return "rec-1", nil
}

func (f *fakeNames) DeleteRecord(_ context.Context, id string) error {
	f.j.add("dns-delete %s", id)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.live, id)
	return nil
}

type fakeNotifier struct {
	j   *journal
	err error
}

func (f *fakeNotifier) DeploymentCreated(_ context.Context, id, name, host string, mode domain.Mode) error {
	f.j.add("notify %s %s %s %s", id, name, host, mode)
	return f.err
}

type fakeStore struct {
	j         *journal
	mu        sync.Mutex
	records   map[string]domain.Deployment
	inserts   int
	insertErr error
	seq       int
	// emptyID saves the record but reports an empty id.
	emptyID bool
}

func newFakeStore(j *journal, existing ...domain.Deployment) *fakeStore {
	s := &fakeStore{j: j, records: map[string]domain.Deployment{}}
	for _, d := range existing {
		s.records[d.ID] = d
	}
	return s
}

func (f *fakeStore) InsertDeployment(_ context.Context, d *domain.Deployment) (string, error) {
	f.j.add("insert %s", d.ContainerName)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts++
	if f.insertErr != nil {
		return "", f.insertErr
	}
	f.seq++
	id := fmt.Sprintf("dep-%d", f.seq)
	d.ID = id
	f.records[id] = *d
	if f.emptyID {
		return "", nil
	}
	return id, nil
}

func (f *fakeStore) DeleteDeployment(_ context.Context, id string) error {
	f.j.add("delete-record %s", id)
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[id]; !ok {
		return repository.ErrNotFound
	}
	delete(f.records, id)
	return nil
}

func (f *fakeStore) find(match func(domain.Deployment) bool) (*domain.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.records {
		if match(d) {
			d := d
			return &d, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeStore) GetDeploymentByID(_ context.Context, id string) (*domain.Deployment, error) {
	return f.find(func(d domain.Deployment) bool { return d.ID == id })
}

func (f *fakeStore) GetDeploymentByHost(_ context.Context, host string) (*domain.Deployment, error) {
	return f.find(func(d domain.Deployment) bool { return d.Host == host })
}

func (f *fakeStore) GetDeploymentByName(_ context.Context, name string) (*domain.Deployment, error) {
	return f.find(func(d domain.Deployment) bool { return d.ContainerName == name })
}

func (f *fakeStore) GetDeploymentByRepoBranch(_ context.Context, repo, branch string) (*domain.Deployment, error) {
	return f.find(func(d domain.Deployment) bool { return d.RepoURL == repo && d.Branch == branch })
}

func (f *fakeStore) ListDeployments(_ context.Context, filter domain.Filter) ([]domain.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Deployment
	for _, d := range f.records {
		if filter.RepoURL != "" && d.RepoURL != filter.RepoURL {
			continue
		}
		if filter.Branch != "" && d.Branch != filter.Branch {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

type fakeHub struct {
	mu       sync.Mutex
	payloads map[string][]string
}

func (f *fakeHub) Broadcast(key string, payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.payloads == nil {
		f.payloads = map[string][]string{}
	}
	f.payloads[key] = append(f.payloads[key], string(payload))
}

func (f *fakeHub) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads[key])
}

type harness struct {
	j          *journal
	source     *fakeSource
	workspace  *fakeWorkspace
	images     *fakeImages
	containers *fakeContainers
	names      *fakeNames
	notifier   *fakeNotifier
	store      *fakeStore
	hub        *fakeHub
	svc        *Service
}

func newHarness(t *testing.T, existing ...domain.Deployment) *harness {
	t.Helper()
	j := &journal{}
	h := &harness{
		j:          j,
		source:     &fakeSource{t: t, j: j},
		workspace:  newFakeWorkspace(t, j),
		images:     &fakeImages{t: t, j: j, live: map[string]bool{}},
		containers: &fakeContainers{t: t, j: j, live: map[string]bool{}, running: map[string]bool{}},
		names:      &fakeNames{j: j, live: map[string]bool{}},
		notifier:   &fakeNotifier{j: j},
		store:      newFakeStore(j, existing...),
		hub:        &fakeHub{},
	}
	svc, err := New(Dependencies{
		Source:     h.source,
		Workspace:  h.workspace,
		Images:     h.images,
		Containers: h.containers,
		Names:      h.names,
		Notifier:   h.notifier,
		Store:      h.store,
		Events:     h.hub,
		Ports:      func() (uint16, error) { return 49152, nil },
	}, Options{HostIP: "203.0.113.7"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	h.svc = svc
	return h
}

// assertNothingLeft checks that no resource created during a failed attempt survives.
func (h *harness) assertNothingLeft(t *testing.T) {
	t.Helper()
	if paths := h.workspace.livePaths(); len(paths) != 0 {
		t.Fatalf("leftover paths: %v", paths)
	}
	if len(h.images.live) != 0 {
		t.Fatalf("leftover images: %v", h.images.live)
	}
	if len(h.containers.live) != 0 {
		t.Fatalf("leftover containers: %v", h.containers.live)
	}
	if len(h.names.live) != 0 {
		t.Fatalf("leftover dns records: %v", h.names.live)
	}
	if h.store.size() != 0 {
		t.Fatalf("leftover store records: %d", h.store.size())
	}
}

var errBoom = errors.New("boom")
