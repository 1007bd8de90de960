package usecase

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/kirillkom/sci-librarian/internal/core/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeLedger keeps records in memory and counts mutations per id so tests
// can assert the at-most-one-write discipline.
type fakeLedger struct {
	mu     sync.Mutex
	recs   map[domain.RemoteID]*domain.DocumentRecord
	order  []domain.RemoteID
	writes map[domain.RemoteID]int

	failUpdate map[domain.RemoteID]error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		recs:       make(map[domain.RemoteID]*domain.DocumentRecord),
		writes:     make(map[domain.RemoteID]int),
		failUpdate: make(map[domain.RemoteID]error),
	}
}

func (l *fakeLedger) seed(rec domain.DocumentRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	copied := rec
	l.recs[rec.ID] = &copied
	l.order = append(l.order, rec.ID)
}

func (l *fakeLedger) record(id domain.RemoteID) domain.DocumentRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.recs[id]
}

func (l *fakeLedger) writeCount(id domain.RemoteID) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writes[id]
}

func (l *fakeLedger) Upsert(_ context.Context, entry domain.RemoteEntry) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.recs[entry.ID]
	if !ok {
		l.recs[entry.ID] = &domain.DocumentRecord{
			ID:          entry.ID,
			Name:        entry.Name,
			Path:        entry.Path,
			Fingerprint: entry.Fingerprint,
			Status:      domain.StatusPending,
			UpdatedAt:   time.Now().UTC(),
		}
		l.order = append(l.order, entry.ID)
		l.writes[entry.ID]++
		return true, nil
	}
	if rec.Fingerprint == entry.Fingerprint {
		return false, nil
	}
	rec.Name = entry.Name
	rec.Path = entry.Path
	rec.Fingerprint = entry.Fingerprint
	rec.Status = domain.StatusPending
	rec.LastError = ""
	rec.UpdatedAt = time.Now().UTC()
	l.writes[entry.ID]++
	return true, nil
}

func (l *fakeLedger) ListByStatus(_ context.Context, limit int, statuses ...domain.Status) ([]domain.DocumentRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	match := make(map[domain.Status]bool, len(statuses))
	for _, s := range statuses {
		match[s] = true
	}
	var out []domain.DocumentRecord
	// Newest first: reverse insertion order.
	for i := len(l.order) - 1; i >= 0; i-- {
		rec := l.recs[l.order[i]]
		if !match[rec.Status] {
			continue
		}
		out = append(out, *rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (l *fakeLedger) GetByID(_ context.Context, id domain.RemoteID) (*domain.DocumentRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.recs[id]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}
	copied := *rec
	return &copied, nil
}

func (l *fakeLedger) UpdateStatus(_ context.Context, id domain.RemoteID, status domain.Status, lastError string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.failUpdate[id]; err != nil {
		return err
	}
	rec, ok := l.recs[id]
	if !ok {
		return domain.ErrRecordNotFound
	}
	rec.Status = status
	rec.LastError = lastError
	rec.UpdatedAt = time.Now().UTC()
	l.writes[id]++
	return nil
}

func (l *fakeLedger) SaveMetadata(_ context.Context, id domain.RemoteID, meta domain.ArticleMetadata, targetFolders []domain.RemotePath) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.recs[id]
	if !ok {
		return domain.ErrRecordNotFound
	}
	rec.Status = domain.StatusProcessed
	rec.Title = meta.Title
	rec.Authors = meta.Authors
	rec.Summary = meta.Summary
	rec.Abstract = meta.Abstract
	rec.TargetFolders = targetFolders
	rec.LastError = ""
	rec.UpdatedAt = time.Now().UTC()
	l.writes[id]++
	return nil
}

func (l *fakeLedger) ListArchivedInFolder(_ context.Context, folder domain.RemotePath) ([]domain.DocumentRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.DocumentRecord
	for _, id := range l.order {
		rec := l.recs[id]
		if rec.Status != domain.StatusArchived {
			continue
		}
		for _, f := range rec.TargetFolders {
			if f == folder {
				out = append(out, *rec)
				break
			}
		}
	}
	return out, nil
}

func (l *fakeLedger) CountByStatus(_ context.Context) (map[domain.Status]int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[domain.Status]int)
	for _, rec := range l.recs {
		out[rec.Status]++
	}
	return out, nil
}

type fakeRemote struct {
	mu        sync.Mutex
	entries   []domain.RemoteEntry
	downloads map[domain.RemoteID][]byte

	failDownload map[domain.RemoteID]error
	failUpload   map[domain.RemotePath]error

	uploaded      map[domain.RemotePath][]byte
	uploadOrder   []domain.RemotePath
	downloadCalls int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		downloads:    make(map[domain.RemoteID][]byte),
		failDownload: make(map[domain.RemoteID]error),
		failUpload:   make(map[domain.RemotePath]error),
		uploaded:     make(map[domain.RemotePath][]byte),
	}
}

func (r *fakeRemote) ListFolder(_ context.Context, _ string) ([]domain.RemoteEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.RemoteEntry, len(r.entries))
	copy(out, r.entries)
	return out, nil
}

func (r *fakeRemote) Download(_ context.Context, id domain.RemoteID) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.downloadCalls++
	if err := r.failDownload[id]; err != nil {
		return nil, err
	}
	content, ok := r.downloads[id]
	if !ok {
		return nil, fmt.Errorf("no remote content for %s", id)
	}
	return content, nil
}

func (r *fakeRemote) Upload(_ context.Context, path domain.RemotePath, content []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failUpload[path]; err != nil {
		return err
	}
	copied := make([]byte, len(content))
	copy(copied, content)
	r.uploaded[path] = copied
	r.uploadOrder = append(r.uploadOrder, path)
	return nil
}

type fakeWork struct {
	mu    sync.Mutex
	files map[domain.RemoteID][]byte
}

func newFakeWork() *fakeWork {
	return &fakeWork{files: make(map[domain.RemoteID][]byte)}
}

func (w *fakeWork) Save(_ context.Context, id domain.RemoteID, data io.Reader) error {
	content, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.files[id] = content
	return nil
}

func (w *fakeWork) Open(_ context.Context, id domain.RemoteID) (io.ReadCloser, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	content, ok := w.files[id]
	if !ok {
		return nil, fmt.Errorf("no local copy for %s", id)
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

type fakeExtractor struct {
	fn func(content []byte) (string, error)
}

func (e *fakeExtractor) Extract(_ context.Context, content []byte) (string, error) {
	return e.fn(content)
}

type fakeClassifier struct {
	fn func(ctx context.Context, text string, rules domain.RuleSet) (domain.ArticleMetadata, []domain.Rule, error)
}

func (c *fakeClassifier) Classify(ctx context.Context, text string, rules domain.RuleSet) (domain.ArticleMetadata, []domain.Rule, error) {
	return c.fn(ctx, text, rules)
}

// fakeObserver counts every callback so tests can assert the pipeline
// reports each stage it runs.
type fakeObserver struct {
	mu             sync.Mutex
	started        int
	finished       map[domain.Status]int
	uploads        map[bool]int // keyed by success
	indexRebuilds  map[bool]int
	batchDurations int
}

func newFakeObserver() *fakeObserver {
	return &fakeObserver{
		finished:      make(map[domain.Status]int),
		uploads:       make(map[bool]int),
		indexRebuilds: make(map[bool]int),
	}
}

func (o *fakeObserver) JobStarted() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
}

func (o *fakeObserver) JobFinished(status domain.Status, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished[status]++
}

func (o *fakeObserver) RecordUpload(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.uploads[err == nil]++
}

func (o *fakeObserver) RecordIndexRebuild(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.indexRebuilds[err == nil]++
}

func (o *fakeObserver) ObserveBatchDuration(_ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.batchDurations++
}

type statusEvent struct {
	id     domain.RemoteID
	status domain.Status
}

type fakeEvents struct {
	mu     sync.Mutex
	events []statusEvent
}

func (e *fakeEvents) PublishStatus(_ context.Context, id domain.RemoteID, status domain.Status) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, statusEvent{id: id, status: status})
	return nil
}
