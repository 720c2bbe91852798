package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-playground/validator"
	"github.com/jo-hoe/buracos/internal/backend/database"
	"github.com/jo-hoe/buracos/internal/backend/imageprocessing"
	"github.com/jo-hoe/buracos/internal/backend/session"
	"github.com/jo-hoe/buracos/internal/common"
	"golang.org/x/crypto/bcrypt"
)

type CoreService struct {
	config          *ServiceConfig
	databaseService database.DatabaseService
	ingestor        *imageprocessing.Ingestor
	sessions        session.Store
	validate        *validator.Validate
	passwordCost    int
}

func NewCoreService(ctx context.Context, config *ServiceConfig) (*CoreService, error) {
	databaseService, err := getDatabaseService(config)
	if err != nil {
		return nil, err
	}

	ingestor, err := imageprocessing.NewIngestor(config.ingestorConfig())
	if err != nil {
		_ = databaseService.Close()
		return nil, fmt.Errorf("failed to initialize image ingestion: %w", err)
	}

	sessions, err := session.NewStore(ctx, config.Session.Type, databaseService, session.RedisConfig{
		Address:   config.Session.Redis.Address,
		Password:  config.Session.Redis.Password,
		DB:        config.Session.Redis.DB,
		KeyPrefix: config.Session.Redis.KeyPrefix,
	}, config.Auth.SessionTTL)
	if err != nil {
		_ = databaseService.Close()
		return nil, fmt.Errorf("failed to initialize session store: %w", err)
	}

	return &CoreService{
		config:          config,
		databaseService: databaseService,
		ingestor:        ingestor,
		sessions:        sessions,
		validate:        newValidator(),
		passwordCost:    bcrypt.DefaultCost,
	}, nil
}

func getDatabaseService(config *ServiceConfig) (database.DatabaseService, error) {
	databaseService, err := database.NewDatabase(config.Database.Type, config.Database.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	slog.Info("database initialized successfully", "type", config.Database.Type)
	return databaseService, nil
}

func (service *CoreService) Config() *ServiceConfig {
	return service.config
}

// Images exposes the image store for serving uploaded files
func (service *CoreService) Images() *imageprocessing.Ingestor {
	return service.ingestor
}

// SchemaVersion reports the applied database migration version
func (service *CoreService) SchemaVersion(ctx context.Context) (int, error) {
	return service.databaseService.SchemaVersion(ctx)
}

func (service *CoreService) Close() error {
	var errs []error
	if err := service.sessions.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close session store: %w", err))
	}
	if err := service.databaseService.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close database: %w", err))
	}
	return errors.Join(errs...)
}

// Submission is a hole report as received from a form or the API. Coordinates
// are kept as text so that missing and malformed values can be reported.
type Submission struct {
	Title        string `validate:"max=120"`
	Description  string `validate:"max=2000"`
	Lat          string
	Lng          string
	Neighborhood string `validate:"max=120"`
	// Image is optional; ImageName is the client supplied filename.
	Image     io.Reader
	ImageName string
}

func (s *Submission) normalize() {
	s.Title = strings.TrimSpace(s.Title)
	s.Description = strings.TrimSpace(s.Description)
	s.Lat = strings.TrimSpace(s.Lat)
	s.Lng = strings.TrimSpace(s.Lng)
	s.Neighborhood = strings.TrimSpace(s.Neighborhood)
}

func parseCoordinate(name, value string) (*float64, error) {
	if value == "" {
		return nil, fmt.Errorf("%w: %s is required", common.ErrValidation, name)
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be a number, got %q", common.ErrValidation, name, value)
	}
	return &parsed, nil
}

// SubmitHole validates the report, stores its image and records the hole.
// Nothing is persisted when any step fails.
func (service *CoreService) SubmitHole(ctx context.Context, actor *database.User, submission Submission) (int64, error) {
	submission.normalize()
	if err := service.validateStruct(&submission); err != nil {
		return 0, err
	}
	lat, err := parseCoordinate("lat", submission.Lat)
	if err != nil {
		return 0, err
	}
	lng, err := parseCoordinate("lng", submission.Lng)
	if err != nil {
		return 0, err
	}
	if err := database.ValidateCoordinates(lat, lng); err != nil {
		return 0, err
	}
	if actor == nil && !service.config.AnonymousSubmissionsAllowed() {
		return 0, fmt.Errorf("%w: log in to report a hole", common.ErrUnauthenticated)
	}

	var storedImage string
	if submission.Image != nil {
		storedImage, err = service.ingestor.Ingest(submission.Image, submission.ImageName)
		if err != nil {
			slog.Info("rejected hole image", "filename", submission.ImageName, "error", err)
			return 0, err
		}
	}

	newHole := database.NewHole{
		Title:        submission.Title,
		Description:  submission.Description,
		Lat:          lat,
		Lng:          lng,
		Neighborhood: submission.Neighborhood,
		Image:        storedImage,
	}
	if actor != nil {
		newHole.OwnerID = &actor.ID
	}

	id, err := service.databaseService.CreateHole(ctx, newHole)
	if err != nil {
		if storedImage != "" {
			service.removeImage(storedImage)
		}
		return 0, err
	}

	slog.Info("hole submitted", "id", id, "has_image", storedImage != "", "owner", ownerName(actor))
	return id, nil
}

func (service *CoreService) ListHoles(ctx context.Context, filter database.HoleFilter) ([]*database.Hole, error) {
	filter.Neighborhood = strings.TrimSpace(filter.Neighborhood)
	return service.databaseService.ListHoles(ctx, filter)
}

func (service *CoreService) GetHole(ctx context.Context, id int64) (*database.Hole, error) {
	return service.databaseService.GetHole(ctx, id)
}

// ConcludeHole marks the hole as fixed. Concluding twice is not an error.
func (service *CoreService) ConcludeHole(ctx context.Context, actor *database.User, id int64) error {
	if _, err := service.authorize(ctx, actor, id, ActionConclude); err != nil {
		return err
	}
	if err := service.databaseService.ConcludeHole(ctx, id); err != nil {
		return err
	}
	slog.Info("hole concluded", "id", id, "by", actor.Username)
	return nil
}

// DeleteHole removes the hole and, best effort, its stored image.
func (service *CoreService) DeleteHole(ctx context.Context, actor *database.User, id int64) error {
	if _, err := service.authorize(ctx, actor, id, ActionDelete); err != nil {
		return err
	}
	deleted, err := service.databaseService.DeleteHole(ctx, id)
	if err != nil {
		return err
	}
	if deleted.Image != "" {
		service.removeImage(deleted.Image)
	}
	slog.Info("hole deleted", "id", id, "by", actor.Username)
	return nil
}

// authorize loads the hole and checks that actor may perform action on it.
// Unknown holes are reported before missing credentials.
func (service *CoreService) authorize(ctx context.Context, actor *database.User, id int64, action Action) (*database.Hole, error) {
	hole, err := service.databaseService.GetHole(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor == nil {
		return nil, fmt.Errorf("%w: log in to %s holes", common.ErrUnauthenticated, action)
	}
	if !CanMutate(actor, hole, action) {
		slog.Warn("mutation denied", "action", action.String(), "hole", id, "user", actor.Username)
		return nil, fmt.Errorf("%w: %s may not %s hole %d", common.ErrPermission, actor.Username, action, id)
	}
	return hole, nil
}

func (service *CoreService) removeImage(name string) {
	if err := service.ingestor.Remove(name); err != nil {
		slog.Warn("failed to remove stored image", "image", name, "error", err)
	}
}

func ownerName(user *database.User) string {
	if user == nil {
		return "anonymous"
	}
	return user.Username
}
