package transcode_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/transcoder/internal/cache"
	"github.com/kiranshivaraju/transcoder/internal/encoder"
	"github.com/kiranshivaraju/transcoder/internal/events"
	"github.com/kiranshivaraju/transcoder/internal/objectstore"
	"github.com/kiranshivaraju/transcoder/internal/store"
	"github.com/kiranshivaraju/transcoder/pkg/models"
)

// --- Mock Store ---

type memStore struct {
	mu     sync.Mutex
	videos map[uuid.UUID]*models.Video
	jobs   map[uuid.UUID]*models.Job
	// progress records every accepted progress write per job, in order.
	progress map[uuid.UUID][]int
	// statuses records every accepted status per job, in order.
	statuses map[uuid.UUID][]string

	progressErr error
	createErr   error
}

func newMemStore() *memStore {
	return &memStore{
		videos:   make(map[uuid.UUID]*models.Video),
		jobs:     make(map[uuid.UUID]*models.Job),
		progress: make(map[uuid.UUID][]int),
		statuses: make(map[uuid.UUID][]string),
	}
}

func (m *memStore) Ping(_ context.Context) error { return nil }
func (m *memStore) GetAPIKeyByPrefix(_ context.Context, _ string) ([]*models.APIKey, error) {
	return nil, nil
}
func (m *memStore) UpdateAPIKeyLastUsed(_ context.Context, _ uuid.UUID) error { return nil }
func (m *memStore) CreateAPIKey(_ context.Context, _ *models.APIKey) error    { return nil }

func (m *memStore) CreateVideo(_ context.Context, v *models.Video) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *v
	m.videos[v.ID] = &cp
	return nil
}

func (m *memStore) GetVideo(_ context.Context, id uuid.UUID, owner string) (*models.Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.videos[id]
	if !ok || v.Owner != owner {
		return nil, store.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (m *memStore) ListVideos(_ context.Context, owner string) ([]*models.Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Video
	for _, v := range m.videos {
		if v.Owner == owner {
			cp := *v
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) CreateJob(_ context.Context, j *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if _, ok := m.jobs[j.ID]; ok {
		return store.ErrDuplicateKey
	}
	cp := *j
	m.jobs[j.ID] = &cp
	m.statuses[j.ID] = append(m.statuses[j.ID], j.Status)
	return nil
}

func (m *memStore) GetJob(_ context.Context, id uuid.UUID, owner string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Owner != owner {
		return nil, store.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memStore) ListJobs(_ context.Context, owner string) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Job
	for _, j := range m.jobs {
		if j.Owner == owner {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	return out, nil
}

func (m *memStore) ListStaleJobs(_ context.Context, status string, olderThan time.Time) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Job
	for _, j := range m.jobs {
		ref := j.CreatedAt
		if j.StartedAt != nil {
			ref = *j.StartedAt
		}
		if j.Status == status && ref.Before(olderThan) {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) UpdateJobStatus(_ context.Context, id uuid.UUID, status string, opts ...store.JobUpdateOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	allowed := false
	for _, from := range store.AllowedFrom(status) {
		if j.Status == from {
			allowed = true
		}
	}
	if !allowed {
		return fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, j.Status, status)
	}

	now := time.Now().UTC()
	u := store.ApplyJobUpdateOptions(opts...)
	j.Status = status
	j.UpdatedAt = now
	if status == models.JobStatusProcessing {
		j.StartedAt = &now
	}
	if models.IsTerminalStatus(status) {
		j.CompletedAt = &now
	}
	if u.Progress != nil {
		j.Progress = *u.Progress
	}
	if u.ErrorMessage != nil {
		msg := *u.ErrorMessage
		j.ErrorMessage = &msg
	}
	if u.OutputSegments != nil {
		j.OutputSegments = append([]string(nil), u.OutputSegments...)
	}
	m.statuses[id] = append(m.statuses[id], status)
	return nil
}

func (m *memStore) UpdateJobProgress(_ context.Context, id uuid.UUID, progress int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.progressErr != nil {
		return m.progressErr
	}
	j, ok := m.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	if j.Status != models.JobStatusProcessing {
		return store.ErrInvalidTransition
	}
	if progress > j.Progress {
		j.Progress = progress
	}
	m.progress[id] = append(m.progress[id], progress)
	return nil
}

func (m *memStore) job(id uuid.UUID) models.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.jobs[id]
}

func (m *memStore) jobCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

func (m *memStore) progressHistory(id uuid.UUID) []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.progress[id]...)
}

func (m *memStore) statusHistory(id uuid.UUID) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.statuses[id]...)
}

// --- Mock Object Store ---

type storedObject struct {
	body        []byte
	contentType string
}

type memObjects struct {
	mu      sync.Mutex
	objects map[string]storedObject
	getErr  error
	putErr  map[string]error
}

func newMemObjects() *memObjects {
	return &memObjects{
		objects: make(map[string]storedObject),
		putErr:  make(map[string]error),
	}
}

func (m *memObjects) Put(_ context.Context, key string, body io.Reader, _ int64, contentType string) (objectstore.Location, error) {
	m.mu.Lock()
	err := m.putErr[key]
	m.mu.Unlock()
	if err != nil {
		return objectstore.Location{}, err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return objectstore.Location{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = storedObject{body: data, contentType: contentType}
	return objectstore.Location{Bucket: "videos", Key: key}, nil
}

func (m *memObjects) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	obj, ok := m.objects[key]
	if !ok {
		return nil, objectstore.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.body)), nil
}

func (m *memObjects) Presign(_ context.Context, key string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("https://objects.test/%s?ttl=%d", key, int(ttl.Seconds())), nil
}

func (m *memObjects) EnsureBucket(_ context.Context) error { return nil }

func (m *memObjects) object(key string) (storedObject, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	return obj, ok
}

func (m *memObjects) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// --- Mock Encoder ---

// fakeEncoder reports the given progress values and then writes a small
// output file, or fails with diagnostic when set.
type fakeEncoder struct {
	progress   []int
	diagnostic string
	segments   int
	panicMsg   string
	// gate, when set, holds the encode after its first progress event until closed.
	gate chan struct{}

	mu       sync.Mutex
	requests []encoder.Request
	inputs   [][]byte
}

func (f *fakeEncoder) Encode(_ context.Context, req encoder.Request) <-chan encoder.Event {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	in, _ := os.ReadFile(req.InputPath)
	f.inputs = append(f.inputs, in)
	f.mu.Unlock()

	if f.panicMsg != "" {
		panic(f.panicMsg)
	}

	ch := make(chan encoder.Event, len(f.progress)+2)
	go func() {
		defer close(ch)
		ch <- encoder.Event{Kind: encoder.EventStarted, Command: "ffmpeg -i " + req.InputPath}
		for i, p := range f.progress {
			ch <- encoder.Event{Kind: encoder.EventProgress, Percent: p}
			if i == 0 && f.gate != nil {
				<-f.gate
			}
		}
		if f.diagnostic != "" {
			ch <- encoder.Event{Kind: encoder.EventFailed, Diagnostic: f.diagnostic}
			return
		}
		out := encoder.Output{Path: req.OutputPath}
		if err := os.WriteFile(req.OutputPath, []byte("encoded:"+req.Resolution), 0o644); err != nil {
			ch <- encoder.Event{Kind: encoder.EventFailed, Diagnostic: err.Error()}
			return
		}
		base := encoder.SegmentBase(req.OutputPath)
		for i := 0; i < f.segments; i++ {
			seg := filepath.Join(filepath.Dir(req.OutputPath), fmt.Sprintf("%s-chunk-0-%05d.m4s", base, i+1))
			if err := os.WriteFile(seg, []byte("segment"), 0o644); err != nil {
				ch <- encoder.Event{Kind: encoder.EventFailed, Diagnostic: err.Error()}
				return
			}
			out.Segments = append(out.Segments, seg)
		}
		ch <- encoder.Event{Kind: encoder.EventCompleted, Output: out}
	}()
	return ch
}

func (f *fakeEncoder) calls() []encoder.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]encoder.Request(nil), f.requests...)
}

// silentEncoder closes its stream without a terminal event.
type silentEncoder struct{}

func (silentEncoder) Encode(_ context.Context, _ encoder.Request) <-chan encoder.Event {
	ch := make(chan encoder.Event, 1)
	ch <- encoder.Event{Kind: encoder.EventStarted}
	close(ch)
	return ch
}

// mutedFailEncoder fails without any diagnostic text.
type mutedFailEncoder struct{}

func (mutedFailEncoder) Encode(_ context.Context, _ encoder.Request) <-chan encoder.Event {
	ch := make(chan encoder.Event, 2)
	ch <- encoder.Event{Kind: encoder.EventStarted}
	ch <- encoder.Event{Kind: encoder.EventFailed}
	close(ch)
	return ch
}

// --- Mock Cache ---

type mockCache struct {
	mu    sync.Mutex
	snaps map[uuid.UUID]cache.JobSnapshot
	err   error
}

func newMockCache() *mockCache {
	return &mockCache{snaps: make(map[uuid.UUID]cache.JobSnapshot)}
}

func (m *mockCache) Ping(_ context.Context) error { return nil }

func (m *mockCache) SetJobStatus(_ context.Context, id uuid.UUID, snap cache.JobSnapshot, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.snaps[id] = snap
	return nil
}

func (m *mockCache) SetJobProgress(_ context.Context, id uuid.UUID, progress int, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	snap := m.snaps[id]
	if progress > snap.Progress {
		snap.Progress = progress
	}
	m.snaps[id] = snap
	return nil
}

func (m *mockCache) GetJobSnapshot(_ context.Context, id uuid.UUID) (cache.JobSnapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return cache.JobSnapshot{}, false, m.err
	}
	snap, ok := m.snaps[id]
	return snap, ok, nil
}

func (m *mockCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 1, nil
}

func (m *mockCache) snapshot(id uuid.UUID) (cache.JobSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snaps[id]
	return s, ok
}

// --- Mock Publisher ---

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.JobEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.JobEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) statuses(id uuid.UUID) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, ev := range p.events {
		if ev.JobID == id {
			out = append(out, ev.Status)
		}
	}
	return out
}

var errBoom = errors.New("boom")
