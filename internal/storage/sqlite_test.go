package storage

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	if err := s1.SetPreference("site-theme", "dark"); err != nil {
		t.Fatalf("SetPreference: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}

	got, err := s2.GetPreference("site-theme")
	if err != nil || got != "dark" {
		t.Errorf("preference after reopen = %q, %v; want dark", got, err)
	}
}

func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(versions) == 0 {
		t.Fatal("expected at least one applied migration")
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

func TestTablesExist(t *testing.T) {
	s := openTestStore(t)

	for _, name := range []string{"preferences", "providers", "papers", "idx_papers_created_at"} {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE name = ?", name).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", name, err)
		}
		if count != 1 {
			t.Errorf("%q not found in sqlite_master", name)
		}
	}
}

func TestPreferenceRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if err := s.SetPreference("site-theme", "light"); err != nil {
		t.Fatalf("SetPreference: %v", err)
	}
	if err := s.SetPreference("site-theme", "dark"); err != nil {
		t.Fatalf("SetPreference (overwrite): %v", err)
	}

	val, err := s.GetPreference("site-theme")
	if err != nil {
		t.Fatalf("GetPreference: %v", err)
	}
	if val != "dark" {
		t.Errorf("value = %q, want %q", val, "dark")
	}

	if _, err := s.GetPreference("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetPreference(missing) err = %v, want ErrNotFound", err)
	}
}

func TestAllPreferences(t *testing.T) {
	s := openTestStore(t)

	want := map[string]string{"site-theme": "system", "site-model": "openai/gpt-oss-20b:free"}
	for k, v := range want {
		if err := s.SetPreference(k, v); err != nil {
			t.Fatalf("SetPreference(%q): %v", k, err)
		}
	}

	got, err := s.AllPreferences()
	if err != nil {
		t.Fatalf("AllPreferences: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("AllPreferences = %v, want %v", got, want)
	}
}

func TestProviders(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"openai", "deepseek", "microsoft"} {
		p := Provider{ID: id, Label: id + " label", BaseURL: "https://" + id + ".example/v1", CreatedAt: base.Add(time.Duration(i) * time.Second)}
		if err := s.AddProvider(p); err != nil {
			t.Fatalf("AddProvider(%q): %v", id, err)
		}
	}

	if err := s.AddProvider(Provider{ID: "openai", BaseURL: "https://dup"}); !errors.Is(err, ErrExists) {
		t.Errorf("duplicate AddProvider err = %v, want ErrExists", err)
	}

	list, err := s.ListProviders()
	if err != nil {
		t.Fatalf("ListProviders: %v", err)
	}
	var ids []string
	for _, p := range list {
		ids = append(ids, p.ID)
	}
	if !reflect.DeepEqual(ids, []string{"openai", "deepseek", "microsoft"}) {
		t.Errorf("ids = %v", ids)
	}
	if !list[1].CreatedAt.Equal(base.Add(time.Second)) {
		t.Errorf("CreatedAt = %v", list[1].CreatedAt)
	}

	n, err := s.CountProviders()
	if err != nil || n != 3 {
		t.Errorf("CountProviders = %d, %v", n, err)
	}
}

func TestSaveAndGetPaper(t *testing.T) {
	s := openTestStore(t)

	p := Paper{
		ID:               "p1",
		CreatedAt:        time.Date(2025, 3, 4, 5, 6, 7, 890000000, time.UTC),
		Topic:            "Ocean Acidification",
		WordLimit:        1200,
		Sections:         []string{"Abstract", "Conclusion"},
		Model:            "deepseek/deepseek-chat-v3.1:free",
		WordCount:        7,
		ReadabilityScore: 0,
		Result:           `{"status":"success"}`,
	}
	if err := s.SavePaper(p); err != nil {
		t.Fatalf("SavePaper: %v", err)
	}

	got, err := s.GetPaper("p1")
	if err != nil {
		t.Fatalf("GetPaper: %v", err)
	}
	if !got.CreatedAt.Equal(p.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, p.CreatedAt)
	}
	got.CreatedAt = p.CreatedAt
	if !reflect.DeepEqual(got, p) {
		t.Errorf("GetPaper = %+v, want %+v", got, p)
	}

	if _, err := s.GetPaper("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetPaper(nope) err = %v, want ErrNotFound", err)
	}
}

func TestRecentPapers(t *testing.T) {
	s := openTestStore(t)

	base := time.Now().Add(-time.Hour)
	for i := range 5 {
		err := s.SavePaper(Paper{
			ID:        fmt.Sprintf("p%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			Topic:     "t",
			WordLimit: 10,
			Result:    "{}",
		})
		if err != nil {
			t.Fatalf("SavePaper: %v", err)
		}
	}

	got, err := s.RecentPapers(3)
	if err != nil {
		t.Fatalf("RecentPapers: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d papers, want 3", len(got))
	}
	for i, want := range []string{"p4", "p3", "p2"} {
		if got[i].ID != want {
			t.Errorf("papers[%d] = %s, want %s", i, got[i].ID, want)
		}
	}
}

func TestDeletePaper(t *testing.T) {
	s := openTestStore(t)

	if err := s.SavePaper(Paper{ID: "p1", Topic: "t", WordLimit: 1, Result: "{}"}); err != nil {
		t.Fatalf("SavePaper: %v", err)
	}
	if err := s.DeletePaper("p1"); err != nil {
		t.Fatalf("DeletePaper: %v", err)
	}
	if err := s.DeletePaper("p1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeletePaper err = %v, want ErrNotFound", err)
	}
}
