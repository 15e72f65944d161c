package history

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"maisoku/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleEntry(id, userID string, createdAt time.Time) domain.HistoryEntry {
	return domain.HistoryEntry{
		ID:     id,
		UserID: userID,
		Result: domain.AnalysisResult{
			Analysis:       "**駅近**\n* 徒歩5分",
			ProcessingTime: 2300 * time.Millisecond,
			IsPersonalized: true,
			Timestamp:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			Metadata:       map[string]any{"model": "v2"},
		},
		ImageRef:  "/tmp/photo.jpg",
		CreatedAt: createdAt,
	}
}

func TestSaveAndGet(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	entry := sampleEntry("entry-1", "user-1", time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	id, err := store.Save(ctx, entry)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if id != "entry-1" {
		t.Fatalf("unexpected id %q", id)
	}

	got, err := store.Get(ctx, "user-1", "entry-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatalf("expected an entry")
	}
	if got.Result.Analysis != entry.Result.Analysis {
		t.Fatalf("analysis round trip: %q", got.Result.Analysis)
	}
	if got.Result.ProcessingTime != entry.Result.ProcessingTime {
		t.Fatalf("processing time round trip: %s", got.Result.ProcessingTime)
	}
	if !got.Result.IsPersonalized {
		t.Fatalf("personalized flag lost")
	}
	if !got.Result.Timestamp.Equal(entry.Result.Timestamp) {
		t.Fatalf("timestamp round trip: %s", got.Result.Timestamp)
	}
	if got.Result.Metadata["model"] != "v2" {
		t.Fatalf("metadata round trip: %+v", got.Result.Metadata)
	}
	if got.ImageRef != entry.ImageRef {
		t.Fatalf("image ref round trip: %q", got.ImageRef)
	}
}

func TestSaveRequiresIdentifiers(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.Save(ctx, domain.HistoryEntry{UserID: "user-1"}); err == nil {
		t.Fatalf("expected error for missing id")
	}
	if _, err := store.Save(ctx, domain.HistoryEntry{ID: "entry-1"}); err == nil {
		t.Fatalf("expected error for missing user id")
	}
}

func TestListNewestFirstScopedToUser(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		entry := sampleEntry(fmt.Sprintf("mine-%d", i), "user-1", base.Add(time.Duration(i)*time.Minute))
		if _, err := store.Save(ctx, entry); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	if _, err := store.Save(ctx, sampleEntry("theirs", "user-2", base)); err != nil {
		t.Fatalf("save other user: %v", err)
	}

	entries, err := store.List(ctx, "user-1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, want := range []string{"mine-2", "mine-1", "mine-0"} {
		if entries[i].ID != want {
			t.Fatalf("entry %d: expected %s, got %s", i, want, entries[i].ID)
		}
	}

	limited, err := store.List(ctx, "user-1", 2)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(limited))
	}
}

func TestGetAbsent(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	entry, err := store.Get(context.Background(), "user-1", "missing")
	if err != nil {
		t.Fatalf("get absent: %v", err)
	}
	if entry != nil {
		t.Fatalf("expected nil for absent entry")
	}
}

func TestGetOtherUsersEntryIsAbsent(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.Save(ctx, sampleEntry("entry-1", "user-1", time.Now().UTC())); err != nil {
		t.Fatalf("save: %v", err)
	}
	entry, err := store.Get(ctx, "user-2", "entry-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if entry != nil {
		t.Fatalf("entries must be owner-scoped")
	}
}

func TestDelete(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.Save(ctx, sampleEntry("entry-1", "user-1", time.Now().UTC())); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Delete(ctx, "user-1", "entry-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	entry, err := store.Get(ctx, "user-1", "entry-1")
	if err != nil || entry != nil {
		t.Fatalf("entry should be gone, got %+v err=%v", entry, err)
	}

	// Absent and repeated deletes are not errors.
	if err := store.Delete(ctx, "user-1", "entry-1"); err != nil {
		t.Fatalf("repeat delete: %v", err)
	}
	if err := store.Delete(ctx, "user-1", "never-existed"); err != nil {
		t.Fatalf("absent delete: %v", err)
	}
}

func TestPreferenceProfileUpsert(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()

	profile, err := store.LoadProfile(ctx, "user-1")
	if err != nil {
		t.Fatalf("load absent profile: %v", err)
	}
	if profile != nil {
		t.Fatalf("expected nil for absent profile")
	}

	first := domain.PreferenceProfile{
		TransportationPriority: 5,
		FacilitiesPriority:     3,
		SpecificFacilities:     []string{"スーパー", "病院"},
	}
	if err := store.SaveProfile(ctx, "user-1", first); err != nil {
		t.Fatalf("save profile: %v", err)
	}

	loaded, err := store.LoadProfile(ctx, "user-1")
	if err != nil {
		t.Fatalf("load profile: %v", err)
	}
	if loaded == nil || loaded.TransportationPriority != 5 || len(loaded.SpecificFacilities) != 2 {
		t.Fatalf("profile round trip: %+v", loaded)
	}

	second := domain.PreferenceProfile{BudgetPriority: 4}
	if err := store.SaveProfile(ctx, "user-1", second); err != nil {
		t.Fatalf("upsert profile: %v", err)
	}
	loaded, err = store.LoadProfile(ctx, "user-1")
	if err != nil {
		t.Fatalf("reload profile: %v", err)
	}
	if loaded.BudgetPriority != 4 || loaded.TransportationPriority != 0 {
		t.Fatalf("upsert must replace, got %+v", loaded)
	}
}

func TestSaveProfileRequiresUserID(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	if err := store.SaveProfile(context.Background(), "", domain.PreferenceProfile{}); err == nil {
		t.Fatalf("expected error for empty user id")
	}
}

func TestOpenCreatesParentDirectory(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "deeper", "history.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open with missing parents: %v", err)
	}
	defer store.Close()

	if _, err := store.Save(context.Background(), sampleEntry("entry-1", "user-1", time.Now().UTC())); err != nil {
		t.Fatalf("save after deep open: %v", err)
	}
}
