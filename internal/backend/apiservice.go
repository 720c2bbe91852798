package backend

import (
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/jo-hoe/buracos/internal/backend/database"
	"github.com/jo-hoe/buracos/internal/common"
	"github.com/jo-hoe/buracos/internal/core"
	"github.com/labstack/echo/v4"
)

// UploadsRoute is the path prefix under which stored images are served
const UploadsRoute = "/uploads/"

type APIService struct {
	config      *core.ServiceConfig
	coreService *core.CoreService
}

func NewAPIService(config *core.ServiceConfig, coreService *core.CoreService) *APIService {
	return &APIService{
		config:      config,
		coreService: coreService,
	}
}

type holeResponse struct {
	*database.Hole
	ImageURL string `json:"image_url,omitempty"`
}

func newHoleResponse(hole *database.Hole) holeResponse {
	response := holeResponse{Hole: hole}
	if hole.Image != "" {
		response.ImageURL = ImageURL(hole.Image)
	}
	return response
}

// ImageURL returns the public path of a stored image
func ImageURL(name string) string {
	return UploadsRoute + name
}

type listQuery struct {
	ShowConcluded string `query:"show_concluded" validate:"omitempty,oneof=0 1 true false yes no on off"`
	Neighborhood  string `query:"neighborhood" validate:"max=120"`
}

// ParseFlag reads the boolean query values used by the list filter
func ParseFlag(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// ParseHoleID parses a path id; malformed ids are reported as unknown holes
func ParseHoleID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("hole %q: %w", raw, common.ErrNotFound)
	}
	return id, nil
}

// SubmissionFromRequest reads the multipart hole fields. The returned closer
// releases the uploaded file and must be called once the submission is done.
func SubmissionFromRequest(ctx echo.Context) (core.Submission, func(), error) {
	submission := core.Submission{
		Title:        ctx.FormValue("title"),
		Description:  ctx.FormValue("description"),
		Lat:          ctx.FormValue("lat"),
		Lng:          ctx.FormValue("lng"),
		Neighborhood: ctx.FormValue("neighborhood"),
	}
	noop := func() {}

	header, err := ctx.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return submission, noop, nil
	}
	if errors.Is(err, echo.ErrStatusRequestEntityTooLarge) {
		return submission, noop, fmt.Errorf("%w: request body too large", common.ErrOversize)
	}
	if err != nil {
		return submission, noop, fmt.Errorf("%w: failed to read image upload: %v", common.ErrValidation, err)
	}
	// browsers send an empty part when no file was chosen
	if header.Filename == "" && header.Size == 0 {
		return submission, noop, nil
	}

	file, err := header.Open()
	if err != nil {
		return submission, noop, fmt.Errorf("%w: failed to open image upload: %v", common.ErrStorage, err)
	}
	submission.Image = file
	submission.ImageName = header.Filename
	return submission, closeUpload(file, header), nil
}

func closeUpload(file multipart.File, header *multipart.FileHeader) func() {
	return func() {
		if err := file.Close(); err != nil {
			slog.Warn("failed to close uploaded file", "filename", header.Filename, "error", err)
		}
	}
}

func (s *APIService) SetRoutes(e *echo.Echo) {
	e.GET("/probe", func(ctx echo.Context) error {
		return ctx.String(http.StatusOK, "ok")
	})

	api := e.Group("/api", LimitBody(RequestBodyLimit(s.coreService.Images().MaxBytes()), s.errorResponse))
	api.GET("/holes", s.listHolesHandler)
	api.GET("/holes/:id", s.getHoleHandler)
	api.POST("/holes", s.createHoleHandler)
	api.POST("/holes/:id/conclude", s.concludeHoleHandler)
	api.POST("/holes/:id/concluir", s.concludeHoleHandler)
	api.DELETE("/holes/:id", s.deleteHoleHandler)

	api.POST("/register", s.registerHandler)
	api.POST("/login", s.loginHandler)
	api.POST("/logout", s.logoutHandler)
	api.GET("/me", s.meHandler)
}

func (s *APIService) errorResponse(ctx echo.Context, err error) error {
	var httpError *echo.HTTPError
	if errors.As(err, &httpError) {
		return ctx.JSON(httpError.Code, map[string]any{"ok": false, "error": fmt.Sprint(httpError.Message)})
	}
	status := common.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", ctx.Request().Method, "path", ctx.Path(), "error", err)
	}
	return ctx.JSON(status, map[string]any{"ok": false, "error": common.PublicMessage(err)})
}

func (s *APIService) listHolesHandler(ctx echo.Context) error {
	var query listQuery
	if err := ctx.Bind(&query); err != nil {
		return s.errorResponse(ctx, err)
	}
	if err := ctx.Validate(&query); err != nil {
		return s.errorResponse(ctx, err)
	}

	holes, err := s.coreService.ListHoles(ctx.Request().Context(), database.HoleFilter{
		IncludeConcluded: ParseFlag(query.ShowConcluded),
		Neighborhood:     query.Neighborhood,
	})
	if err != nil {
		return s.errorResponse(ctx, err)
	}

	response := make([]holeResponse, 0, len(holes))
	for _, hole := range holes {
		response = append(response, newHoleResponse(hole))
	}
	return ctx.JSON(http.StatusOK, response)
}

func (s *APIService) getHoleHandler(ctx echo.Context) error {
	id, err := ParseHoleID(ctx.Param("id"))
	if err != nil {
		return s.errorResponse(ctx, err)
	}
	hole, err := s.coreService.GetHole(ctx.Request().Context(), id)
	if err != nil {
		return s.errorResponse(ctx, err)
	}
	return ctx.JSON(http.StatusOK, newHoleResponse(hole))
}

func (s *APIService) createHoleHandler(ctx echo.Context) error {
	submission, closeFn, err := SubmissionFromRequest(ctx)
	if err != nil {
		return s.errorResponse(ctx, err)
	}
	defer closeFn()

	id, err := s.coreService.SubmitHole(ctx.Request().Context(), CurrentUser(ctx), submission)
	if err != nil {
		return s.errorResponse(ctx, err)
	}
	return ctx.JSON(http.StatusCreated, map[string]any{"ok": true, "id": id})
}

func (s *APIService) concludeHoleHandler(ctx echo.Context) error {
	id, err := ParseHoleID(ctx.Param("id"))
	if err != nil {
		return s.errorResponse(ctx, err)
	}
	if err := s.coreService.ConcludeHole(ctx.Request().Context(), CurrentUser(ctx), id); err != nil {
		return s.errorResponse(ctx, err)
	}
	return ctx.JSON(http.StatusOK, map[string]any{"ok": true})
}

func (s *APIService) deleteHoleHandler(ctx echo.Context) error {
	id, err := ParseHoleID(ctx.Param("id"))
	if err != nil {
		return s.errorResponse(ctx, err)
	}
	if err := s.coreService.DeleteHole(ctx.Request().Context(), CurrentUser(ctx), id); err != nil {
		return s.errorResponse(ctx, err)
	}
	return ctx.JSON(http.StatusOK, map[string]any{"ok": true})
}

func (s *APIService) registerHandler(ctx echo.Context) error {
	var credentials core.Credentials
	if err := ctx.Bind(&credentials); err != nil {
		return s.errorResponse(ctx, err)
	}
	user, err := s.coreService.Register(ctx.Request().Context(), credentials)
	if err != nil {
		return s.errorResponse(ctx, err)
	}
	return ctx.JSON(http.StatusCreated, map[string]any{"ok": true, "user": user})
}

func (s *APIService) loginHandler(ctx echo.Context) error {
	var credentials core.Credentials
	if err := ctx.Bind(&credentials); err != nil {
		return s.errorResponse(ctx, err)
	}
	token, user, err := s.coreService.Login(ctx.Request().Context(), credentials)
	if err != nil {
		return s.errorResponse(ctx, err)
	}
	SetSessionCookie(ctx, token, s.config.Auth.SessionTTL)
	return ctx.JSON(http.StatusOK, map[string]any{"ok": true, "token": token, "user": user})
}

func (s *APIService) logoutHandler(ctx echo.Context) error {
	if err := s.coreService.Logout(ctx.Request().Context(), SessionToken(ctx)); err != nil {
		return s.errorResponse(ctx, err)
	}
	ClearSessionCookie(ctx)
	return ctx.JSON(http.StatusOK, map[string]any{"ok": true})
}

func (s *APIService) meHandler(ctx echo.Context) error {
	user := CurrentUser(ctx)
	if user == nil {
		return s.errorResponse(ctx, common.ErrUnauthenticated)
	}
	return ctx.JSON(http.StatusOK, map[string]any{"ok": true, "user": user})
}
