package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kirillkom/sci-librarian/internal/core/domain"
)

type pipelineEnv struct {
	ledger     *fakeLedger
	remote     *fakeRemote
	work       *fakeWork
	extractor  *fakeExtractor
	classifier *fakeClassifier
	events     *fakeEvents
	observer   *fakeObserver
	rules      domain.RuleSet
}

func newPipelineEnv() *pipelineEnv {
	return &pipelineEnv{
		ledger: newFakeLedger(),
		remote: newFakeRemote(),
		work:   newFakeWork(),
		extractor: &fakeExtractor{fn: func(content []byte) (string, error) {
			return string(content), nil
		}},
		classifier: &fakeClassifier{},
		events:     &fakeEvents{},
		rules: domain.NewRuleSet([]domain.Rule{
			{Name: "ml", Description: "machine learning", Target: "/archive/ml"},
			{Name: "bio", Description: "biology", Target: "/archive/bio"},
		}),
	}
}

func (env *pipelineEnv) pipeline() *Pipeline {
	logger := testLogger()
	uploader := NewUploader(env.remote, env.work, logger)
	indexer := NewIndexer(env.ledger, env.remote, logger)
	var observer Observer
	if env.observer != nil {
		observer = env.observer
	}
	return NewPipeline(env.ledger, env.work, env.extractor, env.classifier,
		env.events, uploader, indexer, env.rules, observer, logger)
}

func (env *pipelineEnv) seedDownloaded(id domain.RemoteID, name, text string) {
	env.ledger.seed(domain.DocumentRecord{
		ID: id, Name: name, Path: domain.RemotePath("/0_inbox/" + name),
		Fingerprint: "h", Status: domain.StatusDownloaded,
	})
	_ = env.work.Save(context.Background(), id, strings.NewReader(text))
}

func TestProcessHappyPathArchivesAndIndexes(t *testing.T) {
	env := newPipelineEnv()
	env.seedDownloaded("id:a", "a.pdf", "attention is all you need")
	env.classifier.fn = func(_ context.Context, text string, rules domain.RuleSet) (domain.ArticleMetadata, []domain.Rule, error) {
		matched, _ := rules.Resolve([]string{"ml"})
		return domain.ArticleMetadata{
			Title:    "Attention Is All You Need",
			Authors:  []string{"Vaswani", "Shazeer"},
			Summary:  "Transformers replace recurrence with attention.",
			Abstract: "The dominant sequence transduction models...",
		}, matched, nil
	}

	summary, err := env.pipeline().Process(context.Background(), ProcessOptions{Workers: 2})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if summary.Jobs != 1 {
		t.Fatalf("expected 1 job, got %d", summary.Jobs)
	}

	rec := env.ledger.record("id:a")
	if rec.Status != domain.StatusArchived {
		t.Fatalf("expected archived, got %s (last_error=%q)", rec.Status, rec.LastError)
	}
	if rec.Title != "Attention Is All You Need" || len(rec.Authors) != 2 {
		t.Fatalf("metadata not persisted: %+v", rec)
	}
	if _, ok := env.remote.uploaded["/archive/ml/a.pdf"]; !ok {
		t.Fatalf("document not uploaded to target folder")
	}
	sidecar, ok := env.remote.uploaded["/archive/ml/a.pdf.md"]
	if !ok {
		t.Fatalf("sidecar not uploaded")
	}
	if !strings.Contains(string(sidecar), "# Attention Is All You Need") {
		t.Fatalf("unexpected sidecar content: %s", sidecar)
	}
	if _, ok := env.remote.uploaded["/archive/ml/README.md"]; !ok {
		t.Fatalf("index not rebuilt for touched folder")
	}
}

func TestProcessNoExtractableTextEndsSkipped(t *testing.T) {
	env := newPipelineEnv()
	env.seedDownloaded("id:scan", "scan.pdf", "")
	env.extractor.fn = func([]byte) (string, error) {
		return "", domain.ErrNoExtractableText
	}
	env.classifier.fn = func(context.Context, string, domain.RuleSet) (domain.ArticleMetadata, []domain.Rule, error) {
		t.Fatal("classifier must not run for image-only documents")
		return domain.ArticleMetadata{}, nil, nil
	}

	if _, err := env.pipeline().Process(context.Background(), ProcessOptions{Workers: 1}); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	rec := env.ledger.record("id:scan")
	if rec.Status != domain.StatusSkipped {
		t.Fatalf("expected skipped, got %s", rec.Status)
	}
	if env.ledger.writeCount("id:scan") != 1 {
		t.Fatalf("expected exactly one ledger write, got %d", env.ledger.writeCount("id:scan"))
	}
}

func TestProcessClassificationFailureEndsError(t *testing.T) {
	env := newPipelineEnv()
	env.seedDownloaded("id:a", "a.pdf", "some text")
	env.classifier.fn = func(context.Context, string, domain.RuleSet) (domain.ArticleMetadata, []domain.Rule, error) {
		return domain.ArticleMetadata{}, nil, errors.New("model returned garbage")
	}

	if _, err := env.pipeline().Process(context.Background(), ProcessOptions{Workers: 1}); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	rec := env.ledger.record("id:a")
	if rec.Status != domain.StatusError {
		t.Fatalf("expected error status, got %s", rec.Status)
	}
	if !strings.Contains(rec.LastError, "model returned garbage") {
		t.Fatalf("expected last_error to carry the cause, got %q", rec.LastError)
	}
}

func TestProcessNoRuleMatchedStaysProcessed(t *testing.T) {
	env := newPipelineEnv()
	env.seedDownloaded("id:a", "a.pdf", "unclassifiable text")
	env.classifier.fn = func(context.Context, string, domain.RuleSet) (domain.ArticleMetadata, []domain.Rule, error) {
		return domain.ArticleMetadata{Title: "Odd Paper"}, nil, nil
	}

	if _, err := env.pipeline().Process(context.Background(), ProcessOptions{Workers: 1}); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	rec := env.ledger.record("id:a")
	if rec.Status != domain.StatusProcessed {
		t.Fatalf("expected processed (manual triage), got %s", rec.Status)
	}
	if len(env.remote.uploadOrder) != 0 {
		t.Fatalf("nothing should be uploaded without target folders, got %v", env.remote.uploadOrder)
	}
}

func TestProcessCancellationLeavesLedgerUntouched(t *testing.T) {
	env := newPipelineEnv()
	env.seedDownloaded("id:a", "a.pdf", "text")
	ctx, cancel := context.WithCancel(context.Background())
	env.classifier.fn = func(ctx context.Context, _ string, _ domain.RuleSet) (domain.ArticleMetadata, []domain.Rule, error) {
		cancel()
		<-ctx.Done()
		return domain.ArticleMetadata{}, nil, ctx.Err()
	}

	if _, err := env.pipeline().Process(ctx, ProcessOptions{Workers: 1}); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	rec := env.ledger.record("id:a")
	if rec.Status != domain.StatusDownloaded {
		t.Fatalf("expected downloaded (resume point), got %s", rec.Status)
	}
	if env.ledger.writeCount("id:a") != 0 {
		t.Fatalf("cancelled job must not mutate the ledger")
	}
}

func TestProcessAppliesExactlyOneTransitionPerResult(t *testing.T) {
	env := newPipelineEnv()
	env.seedDownloaded("id:ok", "ok.pdf", "good text")
	env.seedDownloaded("id:bad", "bad.pdf", "bad text")
	env.classifier.fn = func(_ context.Context, text string, rules domain.RuleSet) (domain.ArticleMetadata, []domain.Rule, error) {
		if strings.Contains(text, "bad") {
			return domain.ArticleMetadata{}, nil, errors.New("boom")
		}
		matched, _ := rules.Resolve([]string{"bio"})
		return domain.ArticleMetadata{Title: "Fine"}, matched, nil
	}

	if _, err := env.pipeline().Process(context.Background(), ProcessOptions{Workers: 4}); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	// id:bad gets one transition for its JobResult. id:ok gets one for the
	// JobResult plus the separate archived transition after upload.
	if got := env.ledger.writeCount("id:bad"); got != 1 {
		t.Fatalf("expected 1 write for failed id, got %d", got)
	}
	if got := env.ledger.writeCount("id:ok"); got != 2 {
		t.Fatalf("expected metadata+archive writes for ok id, got %d", got)
	}
}

func TestProcessUploadFailureLeavesProcessedForRetry(t *testing.T) {
	env := newPipelineEnv()
	env.seedDownloaded("id:a", "a.pdf", "text")
	env.remote.failUpload["/archive/ml/a.pdf"] = errors.New("storage quota")
	env.classifier.fn = func(_ context.Context, _ string, rules domain.RuleSet) (domain.ArticleMetadata, []domain.Rule, error) {
		matched, _ := rules.Resolve([]string{"ml"})
		return domain.ArticleMetadata{Title: "T"}, matched, nil
	}

	if _, err := env.pipeline().Process(context.Background(), ProcessOptions{Workers: 1}); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	rec := env.ledger.record("id:a")
	if rec.Status != domain.StatusProcessed {
		t.Fatalf("expected processed (retryable), got %s", rec.Status)
	}
}

func TestProcessRetryErrorsReselectsErrorIds(t *testing.T) {
	env := newPipelineEnv()
	env.ledger.seed(domain.DocumentRecord{
		ID: "id:err", Name: "err.pdf", Status: domain.StatusError, LastError: "boom",
	})
	_ = env.work.Save(context.Background(), "id:err", strings.NewReader("now fine"))
	env.classifier.fn = func(_ context.Context, _ string, rules domain.RuleSet) (domain.ArticleMetadata, []domain.Rule, error) {
		matched, _ := rules.Resolve([]string{"ml"})
		return domain.ArticleMetadata{Title: "Recovered"}, matched, nil
	}

	summary, err := env.pipeline().Process(context.Background(), ProcessOptions{Workers: 1, RetryErrors: true})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if summary.Jobs != 1 {
		t.Fatalf("expected error id selected, got %d jobs", summary.Jobs)
	}
	rec := env.ledger.record("id:err")
	if rec.Status != domain.StatusArchived {
		t.Fatalf("expected archived after retry, got %s", rec.Status)
	}
	if rec.LastError != "" {
		t.Fatalf("expected last_error cleared, got %q", rec.LastError)
	}
}

func TestProcessReportsEveryStageToObserver(t *testing.T) {
	env := newPipelineEnv()
	env.observer = newFakeObserver()
	env.seedDownloaded("id:ok", "ok.pdf", "good text")
	env.seedDownloaded("id:stuck", "stuck.pdf", "stuck text")
	env.remote.failUpload["/archive/bio/stuck.pdf"] = errors.New("storage quota")
	env.classifier.fn = func(_ context.Context, text string, rules domain.RuleSet) (domain.ArticleMetadata, []domain.Rule, error) {
		name := "ml"
		if strings.Contains(text, "stuck") {
			name = "bio"
		}
		matched, _ := rules.Resolve([]string{name})
		return domain.ArticleMetadata{Title: "T " + name}, matched, nil
	}

	if _, err := env.pipeline().Process(context.Background(), ProcessOptions{Workers: 2}); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	obs := env.observer
	if obs.started != 2 || obs.finished[domain.StatusProcessed] != 2 {
		t.Fatalf("expected 2 started/finished jobs, got %d/%v", obs.started, obs.finished)
	}
	if obs.uploads[true] != 1 || obs.uploads[false] != 1 {
		t.Fatalf("expected one upload success and one failure, got %v", obs.uploads)
	}
	// Both folders were touched; the one with nothing archived is a no-op
	// rebuild, still a recorded success.
	if obs.indexRebuilds[true] != 2 || obs.indexRebuilds[false] != 0 {
		t.Fatalf("expected two recorded index rebuilds, got %v", obs.indexRebuilds)
	}
	if obs.batchDurations != 1 {
		t.Fatalf("expected one batch duration observation, got %d", obs.batchDurations)
	}
}

func TestProcessWithoutRetryErrorsIgnoresErrorIds(t *testing.T) {
	env := newPipelineEnv()
	env.ledger.seed(domain.DocumentRecord{
		ID: "id:err", Name: "err.pdf", Status: domain.StatusError, LastError: "boom",
	})

	summary, err := env.pipeline().Process(context.Background(), ProcessOptions{Workers: 1})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if summary.Jobs != 0 {
		t.Fatalf("error ids require -retry-errors, got %d jobs", summary.Jobs)
	}
}
