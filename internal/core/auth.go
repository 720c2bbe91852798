package core

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/go-playground/validator"
	"github.com/jo-hoe/buracos/internal/backend/database"
	"github.com/jo-hoe/buracos/internal/common"
	"golang.org/x/crypto/bcrypt"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Credentials are the login and registration fields
type Credentials struct {
	Username string `json:"username" form:"username" validate:"required,min=3,max=32,username"`
	// bcrypt ignores input beyond 72 bytes
	Password string `json:"password" form:"password" validate:"required,min=8,max=72"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	}); err != nil {
		panic(fmt.Sprintf("failed to register username validation: %v", err))
	}
	return v
}

// validateStruct runs the struct tags and turns failures into ErrValidation
func (service *CoreService) validateStruct(s any) error {
	err := service.validate.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return fmt.Errorf("%w: %v", common.ErrValidation, err)
	}
	problems := make([]string, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		switch fe.Tag() {
		case "required":
			problems = append(problems, fmt.Sprintf("%s is required", strings.ToLower(fe.Field())))
		case "min":
			problems = append(problems, fmt.Sprintf("%s must be at least %s characters", strings.ToLower(fe.Field()), fe.Param()))
		case "max":
			problems = append(problems, fmt.Sprintf("%s must be at most %s characters", strings.ToLower(fe.Field()), fe.Param()))
		case "username":
			problems = append(problems, "username may only contain letters, digits, '.', '_' and '-'")
		default:
			problems = append(problems, fmt.Sprintf("%s is invalid", strings.ToLower(fe.Field())))
		}
	}
	return fmt.Errorf("%w: %s", common.ErrValidation, strings.Join(problems, "; "))
}

func (service *CoreService) Register(ctx context.Context, credentials Credentials) (*database.User, error) {
	credentials.Username = strings.TrimSpace(credentials.Username)
	if err := service.validateStruct(&credentials); err != nil {
		return nil, err
	}
	user, err := service.createUser(ctx, credentials.Username, credentials.Password, false)
	if err != nil {
		return nil, err
	}
	slog.Info("user registered", "id", user.ID, "username", user.Username)
	return user, nil
}

func (service *CoreService) createUser(ctx context.Context, username, password string, isAdmin bool) (*database.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), service.passwordCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	return service.databaseService.CreateUser(ctx, username, string(hash), isAdmin)
}

// Login checks the credentials and opens a session. Unknown users and wrong
// passwords produce the same error.
func (service *CoreService) Login(ctx context.Context, credentials Credentials) (string, *database.User, error) {
	invalid := fmt.Errorf("%w: invalid username or password", common.ErrUnauthenticated)

	username := strings.TrimSpace(credentials.Username)
	if username == "" || credentials.Password == "" {
		return "", nil, invalid
	}
	user, err := service.databaseService.GetUserByUsername(ctx, username)
	if errors.Is(err, common.ErrNotFound) {
		return "", nil, invalid
	}
	if err != nil {
		return "", nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(credentials.Password)); err != nil {
		slog.Info("failed login", "username", username)
		return "", nil, invalid
	}

	token, err := service.sessions.Create(ctx, user.ID)
	if err != nil {
		return "", nil, err
	}
	slog.Info("user logged in", "id", user.ID, "username", user.Username)
	return token, user, nil
}

func (service *CoreService) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return service.sessions.Revoke(ctx, token)
}

// Authenticate resolves a session token to its user. Unknown, expired and
// revoked tokens as well as deleted users yield ErrUnauthenticated.
func (service *CoreService) Authenticate(ctx context.Context, token string) (*database.User, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: no session", common.ErrUnauthenticated)
	}
	userID, err := service.sessions.Lookup(ctx, token)
	if errors.Is(err, common.ErrNotFound) {
		return nil, fmt.Errorf("%w: session is invalid or expired", common.ErrUnauthenticated)
	}
	if err != nil {
		return nil, err
	}
	user, err := service.databaseService.GetUserByID(ctx, userID)
	if errors.Is(err, common.ErrNotFound) {
		return nil, fmt.Errorf("%w: session user no longer exists", common.ErrUnauthenticated)
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// SeedAdmin creates the configured admin account unless an admin exists.
// Without a configured password a random one is generated and logged once.
func (service *CoreService) SeedAdmin(ctx context.Context) error {
	count, err := service.databaseService.CountAdmins(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		slog.Debug("admin account present; skipping seed", "admins", count)
		return nil
	}

	username := service.config.Auth.AdminUsername
	password := service.config.Auth.AdminPassword
	generated := password == ""
	if generated {
		if password, err = randomPassword(); err != nil {
			return err
		}
	}

	user, err := service.createUser(ctx, username, password, true)
	if err != nil {
		return fmt.Errorf("failed to seed admin %s: %w", username, err)
	}
	if generated {
		slog.Warn("seeded admin with generated password; set ADMIN_PASSWORD to choose one",
			"username", user.Username, "password", password)
	} else {
		slog.Info("seeded admin account", "username", user.Username)
	}
	return nil
}

func randomPassword() (string, error) {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate admin password: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
