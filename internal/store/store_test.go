package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/valpere/turjuman/internal/domain"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleJob(id string) *domain.Job {
	now := time.Now().UTC().Truncate(time.Second)
	return &domain.Job{
		ID:              id,
		Filename:        "book.md",
		OriginalContent: "First.\n\nSecond.",
		Config: domain.Config{
			SourceLang:      "en",
			TargetLang:      "uk",
			TranslationMode: domain.ModeDeep,
			MaxChunkSize:    4000,
		},
		Status:      domain.JobPending,
		CurrentStep: domain.StepPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestStore_CreateAndGetJob(t *testing.T) {
	s := testStore(t)

	job := sampleJob("job-1")
	if err := s.CreateJob(job); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	got, err := s.GetJob("job-1")
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.ID != "job-1" || got.Filename != "book.md" {
		t.Errorf("unexpected job: %+v", got)
	}
	if got.OriginalContent != job.OriginalContent {
		t.Error("original content not preserved")
	}
	if got.Config.TargetLang != "uk" || got.Config.TranslationMode != domain.ModeDeep {
		t.Errorf("config not preserved: %+v", got.Config)
	}
	if got.Status != domain.JobPending {
		t.Errorf("expected pending, got %s", got.Status)
	}
}

func TestStore_GetJob_NotFound(t *testing.T) {
	s := testStore(t)
	if _, err := s.GetJob("missing"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_SaveSnapshotRoundTrip(t *testing.T) {
	s := testStore(t)

	job := sampleJob("job-1")
	if err := s.CreateJob(job); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	final := "Перший.\n\nДругий."
	job.Status = domain.JobCompleted
	job.CurrentStep = domain.StepCompleted
	job.Progress = 100
	job.GlossarySource = "auto"
	job.FinalDocument = &final
	job.Chunks = []domain.Chunk{
		{Index: 0, SourceText: "First.\n\n", TranslatedText: "Перший.\n\n", RefinedText: "Перший!\n\n", Status: domain.ChunkRefined},
		{Index: 1, SourceText: "Second.", TranslatedText: "Другий.", Status: domain.ChunkTranslated},
	}
	job.Glossary = domain.Glossary{
		"kyiv": {SourceTerm: "Kyiv", Translations: map[string]string{"uk": "Київ"}},
	}
	if err := s.ReplaceGlossary(job.ID, job.Glossary); err != nil {
		t.Fatalf("ReplaceGlossary failed: %v", err)
	}
	job.Critique = &domain.Critique{
		HasCriticalError: false,
		Issues:           []string{"minor wording"},
		ChunkIssues:      map[int][]string{1: {"awkward phrasing"}},
	}
	job.Metrics.AddUsage(100, 50)
	job.UpdatedAt = time.Now().UTC()

	if err := s.SaveSnapshot(job); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	got, err := s.GetJob("job-1")
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Status != domain.JobCompleted || got.Progress != 100 {
		t.Errorf("job state not persisted: %+v", got)
	}
	if got.FinalDocument == nil || *got.FinalDocument != final {
		t.Error("final document not persisted")
	}
	if len(got.Chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(got.Chunks))
	}
	if got.Chunks[0].Index != 0 || got.Chunks[1].Index != 1 {
		t.Error("chunks not ordered by index")
	}
	if got.Chunks[0].RefinedText != "Перший!\n\n" {
		t.Error("refined text not persisted")
	}
	if got.Glossary["kyiv"].TranslationFor("uk") != "Київ" {
		t.Error("glossary not persisted")
	}
	if got.Critique == nil || len(got.Critique.ChunkIssues[1]) != 1 {
		t.Errorf("critique not persisted: %+v", got.Critique)
	}
	if got.Metrics.TotalTokens != 150 {
		t.Errorf("metrics not persisted: %+v", got.Metrics)
	}
}

func TestStore_SaveSnapshot_UpsertsChunks(t *testing.T) {
	s := testStore(t)

	job := sampleJob("job-1")
	job.Chunks = []domain.Chunk{{Index: 0, SourceText: "First.", Status: domain.ChunkPending}}
	if err := s.CreateJob(job); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	job.Chunks[0].TranslatedText = "Перший."
	job.Chunks[0].Status = domain.ChunkTranslated
	if err := s.SaveSnapshot(job); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}
	// Second snapshot of the same chunk must not duplicate rows.
	if err := s.SaveSnapshot(job); err != nil {
		t.Fatalf("second SaveSnapshot failed: %v", err)
	}

	got, err := s.GetJob("job-1")
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if len(got.Chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(got.Chunks))
	}
	if got.Chunks[0].TranslatedText != "Перший." {
		t.Error("chunk update not persisted")
	}
}

func TestStore_SnapshotKeepsStoredGlossary(t *testing.T) {
	s := testStore(t)

	job := sampleJob("job-1")
	if err := s.CreateJob(job); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	gloss := domain.Glossary{
		"kyiv": {SourceTerm: "Kyiv", Translations: map[string]string{"uk": "Київ"}},
	}
	if err := s.ReplaceGlossary(job.ID, gloss); err != nil {
		t.Fatalf("ReplaceGlossary failed: %v", err)
	}

	// Progress snapshots carry whatever the in-memory job holds; they must
	// not touch the stored glossary either way.
	job.Progress = 42
	if err := s.SaveSnapshot(job); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	got, err := s.GetJob("job-1")
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Glossary["kyiv"].TranslationFor("uk") != "Київ" {
		t.Error("snapshot wiped the stored glossary")
	}

	// An empty replacement clears the terms.
	if err := s.ReplaceGlossary(job.ID, nil); err != nil {
		t.Fatalf("ReplaceGlossary(nil) failed: %v", err)
	}
	got, err = s.GetJob("job-1")
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if len(got.Glossary) != 0 {
		t.Errorf("expected cleared glossary, got %+v", got.Glossary)
	}
}

func TestStore_SaveSnapshot_UnknownJob(t *testing.T) {
	s := testStore(t)
	if err := s.SaveSnapshot(sampleJob("ghost")); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_ListJobs(t *testing.T) {
	s := testStore(t)

	a := sampleJob("job-a")
	a.CreatedAt = time.Now().UTC().Add(-time.Hour)
	b := sampleJob("job-b")
	b.CreatedAt = time.Now().UTC()
	for _, j := range []*domain.Job{a, b} {
		if err := s.CreateJob(j); err != nil {
			t.Fatalf("CreateJob failed: %v", err)
		}
	}

	jobs, err := s.ListJobs()
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].ID != "job-b" {
		t.Errorf("expected newest first, got %s", jobs[0].ID)
	}
}

func TestStore_DeleteJob(t *testing.T) {
	s := testStore(t)

	job := sampleJob("job-1")
	job.Chunks = []domain.Chunk{{Index: 0, SourceText: "x", Status: domain.ChunkPending}}
	if err := s.CreateJob(job); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	if err := s.DeleteJob("job-1"); err != nil {
		t.Fatalf("DeleteJob failed: %v", err)
	}
	if _, err := s.GetJob("job-1"); err != ErrNotFound {
		t.Errorf("expected job gone, got %v", err)
	}
	// Idempotent.
	if err := s.DeleteJob("job-1"); err != nil {
		t.Errorf("deleting a missing job should be a no-op, got %v", err)
	}
}

func TestStore_UserGlossaryCRUD(t *testing.T) {
	s := testStore(t)

	now := time.Now().UTC().Truncate(time.Second)
	g := &UserGlossary{
		ID:   "g-1",
		Name: "Cities",
		Terms: domain.Glossary{
			"kyiv": {SourceTerm: "Kyiv", Translations: map[string]string{"uk": "Київ"}},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.SaveUserGlossary(g); err != nil {
		t.Fatalf("SaveUserGlossary failed: %v", err)
	}

	got, err := s.GetUserGlossary("g-1")
	if err != nil {
		t.Fatalf("GetUserGlossary failed: %v", err)
	}
	if got.Name != "Cities" || len(got.Terms) != 1 {
		t.Errorf("unexpected glossary: %+v", got)
	}

	list, err := s.ListUserGlossaries()
	if err != nil {
		t.Fatalf("ListUserGlossaries failed: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("expected 1 glossary, got %d", len(list))
	}

	if err := s.DeleteUserGlossary("g-1"); err != nil {
		t.Fatalf("DeleteUserGlossary failed: %v", err)
	}
	if _, err := s.GetUserGlossary("g-1"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestStore_DefaultGlossaryMovesBetweenGlossaries(t *testing.T) {
	s := testStore(t)

	now := time.Now().UTC()
	first := &UserGlossary{ID: "g-1", Name: "A", Terms: domain.Glossary{}, IsDefault: true, CreatedAt: now, UpdatedAt: now}
	second := &UserGlossary{ID: "g-2", Name: "B", Terms: domain.Glossary{}, IsDefault: true, CreatedAt: now, UpdatedAt: now}

	if err := s.SaveUserGlossary(first); err != nil {
		t.Fatalf("save first: %v", err)
	}
	if err := s.SaveUserGlossary(second); err != nil {
		t.Fatalf("save second: %v", err)
	}

	def, err := s.GetDefaultUserGlossary()
	if err != nil {
		t.Fatalf("GetDefaultUserGlossary failed: %v", err)
	}
	if def.ID != "g-2" {
		t.Errorf("expected g-2 as default, got %s", def.ID)
	}

	// The old default lost the flag.
	old, err := s.GetUserGlossary("g-1")
	if err != nil {
		t.Fatalf("GetUserGlossary failed: %v", err)
	}
	if old.IsDefault {
		t.Error("expected previous default to be cleared")
	}
}

func TestStore_GetDefaultUserGlossary_NotFound(t *testing.T) {
	s := testStore(t)
	if _, err := s.GetDefaultUserGlossary(); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
