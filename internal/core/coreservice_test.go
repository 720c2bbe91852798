package core

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"strings"
	"testing"

	"github.com/jo-hoe/buracos/internal/backend/database"
	"github.com/jo-hoe/buracos/internal/common"
	"golang.org/x/crypto/bcrypt"
)

func newTestCoreService(t *testing.T, mutate func(*ServiceConfig)) *CoreService {
	t.Helper()
	t.Setenv("ADMIN_USERNAME", "")
	t.Setenv("ADMIN_PASSWORD", "")
	cfg := DefaultConfig()
	cfg.Database.ConnectionString = ":memory:"
	cfg.Uploads.Directory = t.TempDir()
	if mutate != nil {
		mutate(cfg)
	}
	svc, err := NewCoreService(t.Context(), cfg)
	if err != nil {
		t.Fatalf("NewCoreService error: %v", err)
	}
	svc.passwordCost = bcrypt.MinCost
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func newTestUser(t *testing.T, svc *CoreService, username string, isAdmin bool) *database.User {
	t.Helper()
	user, err := svc.createUser(t.Context(), username, "password123", isAdmin)
	if err != nil {
		t.Fatalf("createUser(%s) error: %v", username, err)
	}
	return user
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: 120, G: 80, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func uploadCount(t *testing.T, svc *CoreService) int {
	t.Helper()
	entries, err := os.ReadDir(svc.Images().Directory())
	if err != nil {
		t.Fatalf("ReadDir error: %v", err)
	}
	return len(entries)
}

func TestSubmitHole_CoordinatesRoundTrip(t *testing.T) {
	svc := newTestCoreService(t, nil)
	ctx := t.Context()

	id, err := svc.SubmitHole(ctx, nil, Submission{
		Title:       "  Cratera  ",
		Description: "na esquina",
		Lat:         "-23.55052",
		Lng:         "-46.633308",
	})
	if err != nil {
		t.Fatalf("SubmitHole error: %v", err)
	}
	hole, err := svc.GetHole(ctx, id)
	if err != nil {
		t.Fatalf("GetHole error: %v", err)
	}
	if hole.Lat != -23.55052 || hole.Lng != -46.633308 {
		t.Errorf("Expected coordinates to round trip, got %v,%v", hole.Lat, hole.Lng)
	}
	if hole.Title != "Cratera" || hole.Concluded || hole.OwnerID != nil {
		t.Errorf("Unexpected hole: %+v", hole)
	}
}

func TestSubmitHole_Validation(t *testing.T) {
	svc := newTestCoreService(t, nil)
	ctx := t.Context()

	tests := []struct {
		name       string
		submission Submission
	}{
		{"missing lat", Submission{Lng: "1"}},
		{"missing lng", Submission{Lat: "1"}},
		{"blank coordinates", Submission{Lat: "  ", Lng: " "}},
		{"non numeric", Submission{Lat: "north", Lng: "1"}},
		{"out of range", Submission{Lat: "91", Lng: "1"}},
		{"not finite", Submission{Lat: "NaN", Lng: "1"}},
		{"title too long", Submission{Title: strings.Repeat("a", 121), Lat: "1", Lng: "1"}},
		{"neighborhood too long", Submission{Neighborhood: strings.Repeat("b", 121), Lat: "1", Lng: "1"}},
		{"description too long", Submission{Description: strings.Repeat("c", 2001), Lat: "1", Lng: "1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.SubmitHole(ctx, nil, tt.submission); !errors.Is(err, common.ErrValidation) {
				t.Errorf("Expected ErrValidation, got %v", err)
			}
		})
	}

	holes, err := svc.ListHoles(ctx, database.HoleFilter{IncludeConcluded: true})
	if err != nil {
		t.Fatalf("ListHoles error: %v", err)
	}
	if len(holes) != 0 {
		t.Errorf("Expected no holes after rejected submissions, got %d", len(holes))
	}
}

func TestSubmitHole_TitleLimitCountsCharacters(t *testing.T) {
	svc := newTestCoreService(t, nil)
	if _, err := svc.SubmitHole(t.Context(), nil, Submission{Title: strings.Repeat("ã", 120), Lat: "1", Lng: "1"}); err != nil {
		t.Errorf("Expected 120 multibyte characters to be accepted, got %v", err)
	}
}

func TestSubmitHole_WithImage(t *testing.T) {
	svc := newTestCoreService(t, nil)
	owner := newTestUser(t, svc, "joana", false)
	ctx := t.Context()

	id, err := svc.SubmitHole(ctx, owner, Submission{
		Lat: "1.5", Lng: "2.5",
		Image: bytes.NewReader(testPNG(t)), ImageName: "foto.png",
	})
	if err != nil {
		t.Fatalf("SubmitHole error: %v", err)
	}
	hole, err := svc.GetHole(ctx, id)
	if err != nil {
		t.Fatalf("GetHole error: %v", err)
	}
	if hole.Title != database.DefaultHoleTitle {
		t.Errorf("Expected default title, got %q", hole.Title)
	}
	if hole.OwnerID == nil || *hole.OwnerID != owner.ID {
		t.Errorf("Expected owner %d, got %v", owner.ID, hole.OwnerID)
	}
	if !strings.HasSuffix(hole.Image, ".jpg") || !svc.Images().Exists(hole.Image) {
		t.Errorf("Expected stored jpg image, got %q", hole.Image)
	}
}

func TestSubmitHole_RejectedImage(t *testing.T) {
	svc := newTestCoreService(t, nil)
	ctx := t.Context()

	_, err := svc.SubmitHole(ctx, nil, Submission{
		Title: "Fake", Lat: "1", Lng: "1",
		Image: strings.NewReader("plain text pretending to be a photo"), ImageName: "photo.jpg",
	})
	if !errors.Is(err, common.ErrInvalidFormat) {
		t.Fatalf("Expected ErrInvalidFormat, got %v", err)
	}
	if common.HTTPStatus(err) != 400 {
		t.Errorf("Expected rejection to map to 400, got %d", common.HTTPStatus(err))
	}
	holes, _ := svc.ListHoles(ctx, database.HoleFilter{IncludeConcluded: true})
	if len(holes) != 0 {
		t.Errorf("Expected no hole to be created, got %d", len(holes))
	}
	if n := uploadCount(t, svc); n != 0 {
		t.Errorf("Expected no stored files, got %d", n)
	}
}

func TestSubmitHole_AnonymousDisabled(t *testing.T) {
	svc := newTestCoreService(t, func(cfg *ServiceConfig) {
		allow := false
		cfg.Auth.AllowAnonymousSubmissions = &allow
	})
	ctx := t.Context()

	if _, err := svc.SubmitHole(ctx, nil, Submission{Lat: "1", Lng: "1"}); !errors.Is(err, common.ErrUnauthenticated) {
		t.Errorf("Expected ErrUnauthenticated, got %v", err)
	}
	user := newTestUser(t, svc, "paulo", false)
	if _, err := svc.SubmitHole(ctx, user, Submission{Lat: "1", Lng: "1"}); err != nil {
		t.Errorf("Expected logged in submission to succeed, got %v", err)
	}
}

func TestCraterScenario(t *testing.T) {
	svc := newTestCoreService(t, nil)
	admin := newTestUser(t, svc, "admin", true)
	ctx := t.Context()

	id, err := svc.SubmitHole(ctx, nil, Submission{Title: "Crater", Lat: "10", Lng: "20", Neighborhood: "Centro"})
	if err != nil {
		t.Fatalf("SubmitHole error: %v", err)
	}
	if _, err := svc.SubmitHole(ctx, nil, Submission{Title: "Other", Lat: "11", Lng: "21", Neighborhood: "Zona Norte"}); err != nil {
		t.Fatalf("SubmitHole error: %v", err)
	}

	holes, err := svc.ListHoles(ctx, database.HoleFilter{Neighborhood: " cent "})
	if err != nil {
		t.Fatalf("ListHoles error: %v", err)
	}
	if len(holes) != 1 || holes[0].ID != id {
		t.Fatalf("Expected only Crater for 'cent', got %+v", holes)
	}

	if err := svc.ConcludeHole(ctx, admin, id); err != nil {
		t.Fatalf("ConcludeHole error: %v", err)
	}
	if err := svc.ConcludeHole(ctx, admin, id); err != nil {
		t.Fatalf("Expected conclude to be idempotent, got %v", err)
	}

	holes, _ = svc.ListHoles(ctx, database.HoleFilter{})
	for _, h := range holes {
		if h.ID == id {
			t.Error("Expected concluded hole to be hidden by default")
		}
	}
	holes, _ = svc.ListHoles(ctx, database.HoleFilter{IncludeConcluded: true, Neighborhood: "CENTRO"})
	if len(holes) != 1 || !holes[0].Concluded {
		t.Errorf("Expected concluded Crater when including concluded, got %+v", holes)
	}
}

func TestConcludeHole_Permissions(t *testing.T) {
	svc := newTestCoreService(t, nil)
	owner := newTestUser(t, svc, "owner", false)
	stranger := newTestUser(t, svc, "stranger", false)
	ctx := t.Context()

	id, err := svc.SubmitHole(ctx, owner, Submission{Lat: "1", Lng: "1"})
	if err != nil {
		t.Fatalf("SubmitHole error: %v", err)
	}

	if err := svc.ConcludeHole(ctx, nil, 999); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown hole before auth, got %v", err)
	}
	if err := svc.ConcludeHole(ctx, nil, id); !errors.Is(err, common.ErrUnauthenticated) {
		t.Errorf("Expected ErrUnauthenticated, got %v", err)
	}
	if err := svc.ConcludeHole(ctx, stranger, id); !errors.Is(err, common.ErrPermission) {
		t.Errorf("Expected ErrPermission for non-owner, got %v", err)
	}
	hole, _ := svc.GetHole(ctx, id)
	if hole.Concluded {
		t.Fatal("Expected hole to remain open after denied conclude")
	}
	if err := svc.ConcludeHole(ctx, owner, id); err != nil {
		t.Fatalf("Expected owner to conclude, got %v", err)
	}
	hole, _ = svc.GetHole(ctx, id)
	if !hole.Concluded {
		t.Error("Expected hole to be concluded")
	}
}

func TestDeleteHole(t *testing.T) {
	svc := newTestCoreService(t, nil)
	owner := newTestUser(t, svc, "owner", false)
	admin := newTestUser(t, svc, "boss", true)
	ctx := t.Context()

	id, err := svc.SubmitHole(ctx, owner, Submission{
		Lat: "1", Lng: "1",
		Image: bytes.NewReader(testPNG(t)), ImageName: "x.png",
	})
	if err != nil {
		t.Fatalf("SubmitHole error: %v", err)
	}
	hole, _ := svc.GetHole(ctx, id)

	if err := svc.DeleteHole(ctx, nil, id); !errors.Is(err, common.ErrUnauthenticated) {
		t.Errorf("Expected ErrUnauthenticated, got %v", err)
	}
	if err := svc.DeleteHole(ctx, owner, id); !errors.Is(err, common.ErrPermission) {
		t.Errorf("Expected ErrPermission for non-admin owner, got %v", err)
	}
	if err := svc.DeleteHole(ctx, admin, id); err != nil {
		t.Fatalf("DeleteHole error: %v", err)
	}
	if _, err := svc.GetHole(ctx, id); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	if svc.Images().Exists(hole.Image) {
		t.Error("Expected stored image to be removed")
	}
	if err := svc.DeleteHole(ctx, admin, id); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("Expected ErrNotFound on second delete, got %v", err)
	}
}

func TestDeleteHole_MissingImageTolerated(t *testing.T) {
	svc := newTestCoreService(t, nil)
	admin := newTestUser(t, svc, "boss", true)
	ctx := t.Context()

	id, err := svc.SubmitHole(ctx, nil, Submission{
		Lat: "1", Lng: "1",
		Image: bytes.NewReader(testPNG(t)), ImageName: "x.png",
	})
	if err != nil {
		t.Fatalf("SubmitHole error: %v", err)
	}
	hole, _ := svc.GetHole(ctx, id)
	if err := svc.Images().Remove(hole.Image); err != nil {
		t.Fatalf("Remove error: %v", err)
	}
	if err := svc.DeleteHole(ctx, admin, id); err != nil {
		t.Errorf("Expected delete to succeed without image file, got %v", err)
	}
}
