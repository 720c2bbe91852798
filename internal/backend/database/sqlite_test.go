package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jo-hoe/buracos/internal/common"
)

func newTestDB(t *testing.T) DatabaseService {
	t.Helper()

	ds, err := NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteDatabase error: %v", err)
	}
	_, err = ds.CreateDatabase()
	if err != nil {
		t.Fatalf("CreateDatabase error: %v", err)
	}
	t.Cleanup(func() { _ = ds.Close() })
	return ds
}

func coords(lat, lng float64) (*float64, *float64) {
	return &lat, &lng
}

func mustCreateHole(t *testing.T, ds DatabaseService, hole NewHole) int64 {
	t.Helper()
	id, err := ds.CreateHole(context.Background(), hole)
	if err != nil {
		t.Fatalf("CreateHole error: %v", err)
	}
	return id
}

func TestSQLite_DoesDatabaseExist(t *testing.T) {
	ds := newTestDB(t)
	if !ds.DoesDatabaseExist() {
		t.Fatalf("expected DoesDatabaseExist to return true")
	}
}

func TestSQLite_MigrationsAreIdempotent(t *testing.T) {
	ds := newTestDB(t)
	ctx := context.Background()

	version, err := ds.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion error: %v", err)
	}
	if version != latestVersion() {
		t.Fatalf("expected schema version %d, got %d", latestVersion(), version)
	}

	if _, err := ds.CreateDatabase(); err != nil {
		t.Fatalf("second CreateDatabase error: %v", err)
	}
	again, err := ds.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion error: %v", err)
	}
	if again != version {
		t.Fatalf("expected version to stay %d, got %d", version, again)
	}
}

func TestSQLite_LegacyHolesTableIsMigrated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")
	raw, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open error: %v", err)
	}
	for _, stmt := range []string{
		`CREATE TABLE holes(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT, description TEXT,
			lat REAL, lng REAL, created_at TEXT
		)`,
		`INSERT INTO holes (title, description, lat, lng, created_at)
			VALUES ('Crater', 'deep', -23.5, -46.6, '2024-05-01T12:00:00.123456')`,
		`INSERT INTO holes (title, description, lat, lng, created_at)
			VALUES (NULL, NULL, -23.6, -46.7, '2024-05-02T08:30:00')`,
	} {
		if _, err := raw.Exec(stmt); err != nil {
			t.Fatalf("legacy setup %q: %v", stmt, err)
		}
	}
	if err := raw.Close(); err != nil {
		t.Fatalf("close legacy db: %v", err)
	}

	ds, err := NewSQLiteDatabase(path)
	if err != nil {
		t.Fatalf("NewSQLiteDatabase error: %v", err)
	}
	t.Cleanup(func() { _ = ds.Close() })
	if _, err := ds.CreateDatabase(); err != nil {
		t.Fatalf("CreateDatabase error: %v", err)
	}

	sqlite := ds.(*SQLiteDatabase)
	sqlite.now = func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }
	lat, lng := coords(1, 1)
	newest := mustCreateHole(t, ds, NewHole{Title: "New", Lat: lat, Lng: lng})

	holes, err := ds.ListHoles(context.Background(), HoleFilter{IncludeConcluded: true})
	if err != nil {
		t.Fatalf("ListHoles error: %v", err)
	}
	if len(holes) != 3 {
		t.Fatalf("expected 3 holes, got %d", len(holes))
	}
	if holes[0].ID != newest || holes[1].ID != 2 || holes[2].ID != 1 {
		t.Fatalf("expected newest first then legacy rows by date, got ids %d %d %d",
			holes[0].ID, holes[1].ID, holes[2].ID)
	}

	untitled := holes[1]
	if untitled.Title != DefaultHoleTitle || untitled.Description != "" {
		t.Fatalf("expected NULL text to be normalized, got title %q description %q",
			untitled.Title, untitled.Description)
	}
	if untitled.Concluded {
		t.Fatalf("expected legacy hole to be open")
	}
	want := time.Date(2024, 5, 1, 12, 0, 0, 123456000, time.UTC)
	if !holes[2].CreatedAt.Equal(want) {
		t.Fatalf("expected created_at %v, got %v", want, holes[2].CreatedAt)
	}
}

func TestParseTime_AcceptsLegacyLayouts(t *testing.T) {
	tests := []struct {
		input string
		want  time.Time
	}{
		{"2024-05-01T12:00:00.000000001Z", time.Date(2024, 5, 1, 12, 0, 0, 1, time.UTC)},
		{"2024-05-01T12:00:00.123456", time.Date(2024, 5, 1, 12, 0, 0, 123456000, time.UTC)},
		{"2024-05-01T12:00:00", time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := parseTime(tt.input)
		if err != nil {
			t.Fatalf("parseTime(%q) error: %v", tt.input, err)
		}
		if !got.Equal(tt.want) {
			t.Errorf("parseTime(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}

	if _, err := parseTime("yesterday"); err == nil {
		t.Errorf("expected error for malformed timestamp")
	}
}

func TestSQLite_CreateHole_CoordinatesRoundTrip(t *testing.T) {
	ds := newTestDB(t)
	ctx := context.Background()

	pairs := [][2]float64{
		{-23.5, -46.6},
		{0, 0},
		{90, 180},
		{-90, -180},
		{-23.550520123456, -46.633308987654},
	}
	for _, p := range pairs {
		lat, lng := coords(p[0], p[1])
		id := mustCreateHole(t, ds, NewHole{Lat: lat, Lng: lng})

		hole, err := ds.GetHole(ctx, id)
		if err != nil {
			t.Fatalf("GetHole(%d) error: %v", id, err)
		}
		if hole.Lat != p[0] || hole.Lng != p[1] {
			t.Errorf("expected (%v, %v), got (%v, %v)", p[0], p[1], hole.Lat, hole.Lng)
		}
	}
}

func TestSQLite_CreateHole_Defaults(t *testing.T) {
	ds := newTestDB(t)
	lat, lng := coords(-23.5, -46.6)

	id := mustCreateHole(t, ds, NewHole{Title: "   ", Lat: lat, Lng: lng})
	hole, err := ds.GetHole(context.Background(), id)
	if err != nil {
		t.Fatalf("GetHole error: %v", err)
	}
	if hole.Title != DefaultHoleTitle {
		t.Errorf("expected default title %q, got %q", DefaultHoleTitle, hole.Title)
	}
	if hole.Concluded {
		t.Error("expected new hole to be open")
	}
	if hole.Image != "" || hole.Neighborhood != "" || hole.OwnerID != nil {
		t.Errorf("expected empty optional fields, got %+v", hole)
	}
	if hole.CreatedAt.IsZero() {
		t.Error("expected created_at to be set")
	}
}

func TestSQLite_CreateHole_MissingCoordinates(t *testing.T) {
	ds := newTestDB(t)
	lat := -23.5

	tests := []struct {
		name string
		hole NewHole
	}{
		{"no lat", NewHole{Title: "Crater", Lng: &lat}},
		{"no lng", NewHole{Title: "Crater", Lat: &lat}},
		{"neither", NewHole{Title: "Crater", Description: "deep", Neighborhood: "Centro"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ds.CreateHole(context.Background(), tt.hole)
			if !errors.Is(err, common.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}

	holes, err := ds.ListHoles(context.Background(), HoleFilter{IncludeConcluded: true})
	if err != nil {
		t.Fatalf("ListHoles error: %v", err)
	}
	if len(holes) != 0 {
		t.Fatalf("expected no holes to be created, got %d", len(holes))
	}
}

func TestSQLite_ListHoles_ConcludedFilterAndOrder(t *testing.T) {
	ds := newTestDB(t)
	ctx := context.Background()
	sqlite := ds.(*SQLiteDatabase)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var ids []int64
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		sqlite.now = func() time.Time { return at }
		lat, lng := coords(-23.5, -46.6)
		ids = append(ids, mustCreateHole(t, ds, NewHole{Lat: lat, Lng: lng}))
	}
	if err := ds.ConcludeHole(ctx, ids[1]); err != nil {
		t.Fatalf("ConcludeHole error: %v", err)
	}

	open, err := ds.ListHoles(ctx, HoleFilter{})
	if err != nil {
		t.Fatalf("ListHoles error: %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("expected 2 open holes, got %d", len(open))
	}
	for _, h := range open {
		if h.Concluded {
			t.Errorf("hole %d is concluded but listed without includeConcluded", h.ID)
		}
	}
	if open[0].ID != ids[2] || open[1].ID != ids[0] {
		t.Errorf("expected newest first [%d %d], got [%d %d]", ids[2], ids[0], open[0].ID, open[1].ID)
	}

	all, err := ds.ListHoles(ctx, HoleFilter{IncludeConcluded: true})
	if err != nil {
		t.Fatalf("ListHoles error: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 holes, got %d", len(all))
	}
}

func TestSQLite_ListHoles_SameTimestampTieBreak(t *testing.T) {
	ds := newTestDB(t)
	sqlite := ds.(*SQLiteDatabase)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	sqlite.now = func() time.Time { return fixed }

	lat, lng := coords(1, 1)
	first := mustCreateHole(t, ds, NewHole{Lat: lat, Lng: lng})
	second := mustCreateHole(t, ds, NewHole{Lat: lat, Lng: lng})

	holes, err := ds.ListHoles(context.Background(), HoleFilter{})
	if err != nil {
		t.Fatalf("ListHoles error: %v", err)
	}
	if len(holes) != 2 || holes[0].ID != second || holes[1].ID != first {
		t.Fatalf("expected [%d %d], got %v", second, first, holes)
	}
}

func TestSQLite_ListHoles_NeighborhoodFilter(t *testing.T) {
	ds := newTestDB(t)
	ctx := context.Background()

	lat, lng := coords(-23.5, -46.6)
	crater := mustCreateHole(t, ds, NewHole{Title: "Crater", Lat: lat, Lng: lng, Neighborhood: "Centro"})
	mustCreateHole(t, ds, NewHole{Title: "No tag", Lat: lat, Lng: lng})
	sao := mustCreateHole(t, ds, NewHole{Title: "Accent", Lat: lat, Lng: lng, Neighborhood: "São Mateus"})

	tests := []struct {
		filter   string
		expected []int64
	}{
		{"cent", []int64{crater}},
		{"CENTRO", []int64{crater}},
		{"norte", nil},
		{"SÃO", []int64{sao}},
	}
	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			holes, err := ds.ListHoles(ctx, HoleFilter{Neighborhood: tt.filter})
			if err != nil {
				t.Fatalf("ListHoles error: %v", err)
			}
			if holes == nil {
				t.Fatal("expected empty slice, got nil")
			}
			if len(holes) != len(tt.expected) {
				t.Fatalf("expected %d holes, got %d", len(tt.expected), len(holes))
			}
			for i, id := range tt.expected {
				if holes[i].ID != id {
					t.Errorf("expected hole %d at %d, got %d", id, i, holes[i].ID)
				}
			}
		})
	}
}

func TestSQLite_ConcludeHole(t *testing.T) {
	ds := newTestDB(t)
	ctx := context.Background()
	lat, lng := coords(1, 2)
	id := mustCreateHole(t, ds, NewHole{Lat: lat, Lng: lng})

	for i := 0; i < 2; i++ {
		if err := ds.ConcludeHole(ctx, id); err != nil {
			t.Fatalf("ConcludeHole #%d error: %v", i+1, err)
		}
		hole, err := ds.GetHole(ctx, id)
		if err != nil {
			t.Fatalf("GetHole error: %v", err)
		}
		if !hole.Concluded {
			t.Fatalf("expected hole to be concluded after call #%d", i+1)
		}
	}

	if err := ds.ConcludeHole(ctx, 9999); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown id, got %v", err)
	}
}

func TestSQLite_DeleteHole(t *testing.T) {
	ds := newTestDB(t)
	ctx := context.Background()
	lat, lng := coords(1, 2)
	id := mustCreateHole(t, ds, NewHole{Lat: lat, Lng: lng, Image: "img_x.jpg"})

	deleted, err := ds.DeleteHole(ctx, id)
	if err != nil {
		t.Fatalf("DeleteHole error: %v", err)
	}
	if deleted.ID != id || deleted.Image != "img_x.jpg" {
		t.Errorf("expected deleted hole %d with image, got %+v", id, deleted)
	}
	if _, err := ds.GetHole(ctx, id); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if _, err := ds.DeleteHole(ctx, id); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestSQLite_Users(t *testing.T) {
	ds := newTestDB(t)
	ctx := context.Background()

	admin, err := ds.CreateUser(ctx, "admin", "hash", true)
	if err != nil {
		t.Fatalf("CreateUser error: %v", err)
	}
	if _, err := ds.CreateUser(ctx, "ADMIN", "hash", false); !errors.Is(err, common.ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate username, got %v", err)
	}

	count, err := ds.CountAdmins(ctx)
	if err != nil {
		t.Fatalf("CountAdmins error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 admin, got %d", count)
	}

	byName, err := ds.GetUserByUsername(ctx, "admin")
	if err != nil {
		t.Fatalf("GetUserByUsername error: %v", err)
	}
	if byName.ID != admin.ID || !byName.IsAdmin || byName.PasswordHash != "hash" {
		t.Errorf("unexpected user %+v", byName)
	}
	if _, err := ds.GetUserByID(ctx, 4242); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLite_HoleOwnership(t *testing.T) {
	ds := newTestDB(t)
	ctx := context.Background()

	user, err := ds.CreateUser(ctx, "maria", "hash", false)
	if err != nil {
		t.Fatalf("CreateUser error: %v", err)
	}
	lat, lng := coords(1, 2)
	id := mustCreateHole(t, ds, NewHole{Lat: lat, Lng: lng, OwnerID: &user.ID})

	hole, err := ds.GetHole(ctx, id)
	if err != nil {
		t.Fatalf("GetHole error: %v", err)
	}
	if hole.OwnerID == nil || *hole.OwnerID != user.ID {
		t.Fatalf("expected owner %d, got %v", user.ID, hole.OwnerID)
	}
}

func TestSQLite_Sessions(t *testing.T) {
	ds := newTestDB(t)
	ctx := context.Background()

	user, err := ds.CreateUser(ctx, "joao", "hash", false)
	if err != nil {
		t.Fatalf("CreateUser error: %v", err)
	}
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := ds.CreateSession(ctx, "live", user.ID, now.Add(time.Hour)); err != nil {
		t.Fatalf("CreateSession error: %v", err)
	}
	if err := ds.CreateSession(ctx, "stale", user.ID, now.Add(-time.Hour)); err != nil {
		t.Fatalf("CreateSession error: %v", err)
	}

	session, err := ds.GetSession(ctx, "live")
	if err != nil {
		t.Fatalf("GetSession error: %v", err)
	}
	if session.UserID != user.ID || !session.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Errorf("unexpected session %+v", session)
	}

	removed, err := ds.DeleteExpiredSessions(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpiredSessions error: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 expired session removed, got %d", removed)
	}
	if _, err := ds.GetSession(ctx, "stale"); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("expected stale session to be gone, got %v", err)
	}

	if err := ds.DeleteSession(ctx, "live"); err != nil {
		t.Fatalf("DeleteSession error: %v", err)
	}
	if _, err := ds.GetSession(ctx, "live"); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("expected session to be gone, got %v", err)
	}
}
