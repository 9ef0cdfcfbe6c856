package documents

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type fakeRepo struct {
	mu       sync.Mutex
	docs     map[uuid.UUID]*Document
	versions map[uuid.UUID][]Version
	jobs     map[string]JobRecord
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		docs:     map[uuid.UUID]*Document{},
		versions: map[uuid.UUID][]Version{},
		jobs:     map[string]JobRecord{},
	}
}

func (f *fakeRepo) Insert(ctx context.Context, d *Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d.CreatedAt = time.Now()
	d.UpdatedAt = d.CreatedAt
	cp := *d
	f.docs[d.ID] = &cp
	return nil
}

func (f *fakeRepo) Get(ctx context.Context, orgID, id uuid.UUID) (*Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok || d.OrgID != orgID {
		return nil, ErrDocumentNotFound
	}
	cp := *d
	return &cp, nil
}

func (f *fakeRepo) List(ctx context.Context, filter ListFilter) ([]Document, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []Document
	for _, d := range f.docs {
		if d.OrgID != filter.OrgID {
			continue
		}
		if filter.Status != "" && d.Status != filter.Status {
			continue
		}
		if filter.DocumentType != "" && d.DocumentType != filter.DocumentType {
			continue
		}
		all = append(all, *d)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	start := filter.Offset()
	if start > len(all) {
		start = len(all)
	}
	end := start + filter.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], len(all), nil
}

func (f *fakeRepo) Delete(ctx context.Context, orgID, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok || d.OrgID != orgID {
		return ErrDocumentNotFound
	}
	delete(f.docs, id)
	delete(f.versions, id)
	return nil
}

func (f *fakeRepo) Transition(ctx context.Context, orgID, id uuid.UUID, to Status, reason string) (*Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok || d.OrgID != orgID {
		return nil, ErrDocumentNotFound
	}
	if !CanTransition(d.Status, to) {
		return nil, ErrInvalidTransition
	}
	d.Status = to
	d.ProcessingError = nil
	if to == StatusProcessingFailed {
		d.ProcessingError = &reason
	}
	cp := *d
	return &cp, nil
}

func (f *fakeRepo) SaveVersion(ctx context.Context, documentID uuid.UUID, source VersionSource, data json.RawMessage, userID *uuid.UUID) (*Version, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.docs[documentID]; !ok {
		return nil, ErrDocumentNotFound
	}
	v := Version{
		ID:              uuid.New(),
		DocumentID:      documentID,
		Version:         len(f.versions[documentID]) + 1,
		Source:          source,
		ExtractedData:   data,
		CreatedByUserID: userID,
		CreatedAt:       time.Now(),
	}
	f.versions[documentID] = append(f.versions[documentID], v)
	return &v, nil
}

func (f *fakeRepo) CompleteProcessing(ctx context.Context, orgID, id uuid.UUID, data json.RawMessage) (*Version, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok || d.OrgID != orgID {
		return nil, ErrDocumentNotFound
	}
	if !CanTransition(d.Status, StatusProcessed) {
		return nil, ErrInvalidTransition
	}
	d.Status = StatusProcessed
	d.ProcessingError = nil
	v := Version{
		ID:            uuid.New(),
		DocumentID:    id,
		Version:       len(f.versions[id]) + 1,
		Source:        SourceExtraction,
		ExtractedData: data,
		CreatedAt:     time.Now(),
	}
	f.versions[id] = append(f.versions[id], v)
	return &v, nil
}

func (f *fakeRepo) LatestVersion(ctx context.Context, documentID uuid.UUID) (*Version, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	vs := f.versions[documentID]
	if len(vs) == 0 {
		return nil, ErrNotProcessed
	}
	v := vs[len(vs)-1]
	return &v, nil
}

func (f *fakeRepo) ListVersions(ctx context.Context, documentID uuid.UUID) ([]Version, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	vs := f.versions[documentID]
	out := make([]Version, 0, len(vs))
	for i := len(vs) - 1; i >= 0; i-- {
		out = append(out, vs[i])
	}
	return out, nil
}

func (f *fakeRepo) RecordJob(ctx context.Context, jobID string, documentID uuid.UUID, queue string) (*JobRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := JobRecord{JobID: jobID, DocumentID: documentID, OrgID: f.docs[documentID].OrgID, Queue: queue, CreatedAt: time.Now()}
	f.jobs[jobID] = rec
	return &rec, nil
}

func (f *fakeRepo) ListJobs(ctx context.Context, orgID, documentID uuid.UUID) ([]JobRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []JobRecord{}
	for _, j := range f.jobs {
		if j.OrgID == orgID && j.DocumentID == documentID {
			out = append(out, j)
		}
	}
	return out, nil
}

func (f *fakeRepo) GetJob(ctx context.Context, orgID uuid.UUID, jobID string) (*JobRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[jobID]
	if !ok || j.OrgID != orgID {
		return nil, ErrJobNotFound
	}
	return &j, nil
}

type fakeEnqueuer struct {
	err   error
	calls int
}

func (f *fakeEnqueuer) EnqueueProcessing(ctx context.Context, orgID, documentID uuid.UUID) (string, string, error) {
	f.calls++
	if f.err != nil {
		return "", "", f.err
	}
	return "job-" + documentID.String()[:8], "default", nil
}
