package frontend

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jo-hoe/buracos/internal/backend"
	"github.com/jo-hoe/buracos/internal/backend/database"
	"github.com/jo-hoe/buracos/internal/common"
	"github.com/jo-hoe/buracos/internal/core"
	"github.com/labstack/echo/v4"
)

const (
	MainPageName = "index.html"
	mimePNG      = "image/png"
)

type FrontendService struct {
	coreService *core.CoreService
	config      *core.ServiceConfig
}

func NewFrontendService(config *core.ServiceConfig, coreService *core.CoreService) *FrontendService {
	return &FrontendService{
		coreService: coreService,
		config:      config,
	}
}

func (service *FrontendService) SetRoutes(e *echo.Echo) {
	// Create template renderer
	e.Renderer = newTemplate()

	limit := backend.LimitBody(backend.RequestBodyLimit(service.coreService.Images().MaxBytes()),
		func(ctx echo.Context, err error) error {
			return service.redirectWithFlash(ctx, err, "")
		})

	e.GET("/", service.indexHandler)
	e.POST("/submit", service.submitHandler, limit)
	e.POST("/conclude/:id", service.concludeHandler, limit)
	e.POST("/admin/delete/:id", service.deleteHandler, limit)
	e.POST("/login", service.loginHandler, limit)
	e.POST("/register", service.registerHandler, limit)
	e.POST("/logout", service.logoutHandler, limit)

	e.GET(backend.UploadsRoute+":filename", service.uploadHandler)
	e.GET("/icons/marker.png", service.markerHandler)
}

type holeView struct {
	*database.Hole
	ImageURL    string
	Created     string
	CanConclude bool
	CanDelete   bool
}

type indexData struct {
	User           *database.User
	Flash          *Flash
	Holes          []holeView
	ShowConcluded  bool
	Neighborhood   string
	AllowAnonymous bool
	MaxUploadBytes int64
}

func (service *FrontendService) indexHandler(ctx echo.Context) error {
	user := backend.CurrentUser(ctx)
	data := indexData{
		User:           user,
		Flash:          popFlash(ctx),
		ShowConcluded:  backend.ParseFlag(ctx.QueryParam("show_concluded")),
		Neighborhood:   ctx.QueryParam("neighborhood"),
		AllowAnonymous: service.config.AnonymousSubmissionsAllowed(),
		MaxUploadBytes: service.config.Uploads.MaxBytes,
	}

	holes, err := service.coreService.ListHoles(ctx.Request().Context(), database.HoleFilter{
		IncludeConcluded: data.ShowConcluded,
		Neighborhood:     data.Neighborhood,
	})
	if err != nil {
		slog.Error("indexHandler: failed to list holes",
			"status", http.StatusInternalServerError, "error", err)
		return ctx.String(http.StatusInternalServerError, "Failed to list holes")
	}

	data.Holes = make([]holeView, 0, len(holes))
	for _, hole := range holes {
		view := holeView{
			Hole:        hole,
			Created:     hole.CreatedAt.Format("2006-01-02 15:04"),
			CanConclude: !hole.Concluded && core.CanMutate(user, hole, core.ActionConclude),
			CanDelete:   core.CanMutate(user, hole, core.ActionDelete),
		}
		if hole.Image != "" {
			view.ImageURL = backend.ImageURL(hole.Image)
		}
		data.Holes = append(data.Holes, view)
	}

	setNoCache(ctx)
	return ctx.Render(http.StatusOK, MainPageName, data)
}

// redirectWithFlash finishes a form post the post/redirect/get way
func (service *FrontendService) redirectWithFlash(ctx echo.Context, err error, success string) error {
	if err != nil {
		if common.HTTPStatus(err) == http.StatusInternalServerError {
			slog.Error("form request failed", "path", ctx.Path(), "error", err)
		}
		setFlash(ctx, "danger", common.PublicMessage(err))
	} else {
		setFlash(ctx, "success", success)
	}
	return ctx.Redirect(http.StatusSeeOther, "/")
}

func (service *FrontendService) submitHandler(ctx echo.Context) error {
	submission, closeFn, err := backend.SubmissionFromRequest(ctx)
	if err != nil {
		return service.redirectWithFlash(ctx, err, "")
	}
	defer closeFn()

	if submission.Lat == "" || submission.Lng == "" {
		return service.redirectWithFlash(ctx,
			fmt.Errorf("%w: Clique no mapa para preencher latitude e longitude.", common.ErrValidation), "")
	}

	_, err = service.coreService.SubmitHole(ctx.Request().Context(), backend.CurrentUser(ctx), submission)
	return service.redirectWithFlash(ctx, err, "Buraco registrado!")
}

func (service *FrontendService) concludeHandler(ctx echo.Context) error {
	id, err := backend.ParseHoleID(ctx.Param("id"))
	if err == nil {
		err = service.coreService.ConcludeHole(ctx.Request().Context(), backend.CurrentUser(ctx), id)
	}
	return service.redirectWithFlash(ctx, err, "Buraco marcado como concluído.")
}

func (service *FrontendService) deleteHandler(ctx echo.Context) error {
	id, err := backend.ParseHoleID(ctx.Param("id"))
	if err == nil {
		err = service.coreService.DeleteHole(ctx.Request().Context(), backend.CurrentUser(ctx), id)
	}
	return service.redirectWithFlash(ctx, err, "Registro removido.")
}

func (service *FrontendService) loginHandler(ctx echo.Context) error {
	var credentials core.Credentials
	if err := ctx.Bind(&credentials); err != nil {
		return service.redirectWithFlash(ctx, fmt.Errorf("%w: invalid login form", common.ErrValidation), "")
	}
	return service.login(ctx, credentials)
}

func (service *FrontendService) login(ctx echo.Context, credentials core.Credentials) error {
	token, user, err := service.coreService.Login(ctx.Request().Context(), credentials)
	if err != nil {
		return service.redirectWithFlash(ctx, err, "")
	}
	backend.SetSessionCookie(ctx, token, service.config.Auth.SessionTTL)
	return service.redirectWithFlash(ctx, nil, "Bem-vindo, "+user.Username+"!")
}

func (service *FrontendService) registerHandler(ctx echo.Context) error {
	var credentials core.Credentials
	if err := ctx.Bind(&credentials); err != nil {
		return service.redirectWithFlash(ctx, fmt.Errorf("%w: invalid registration form", common.ErrValidation), "")
	}
	if _, err := service.coreService.Register(ctx.Request().Context(), credentials); err != nil {
		return service.redirectWithFlash(ctx, err, "")
	}
	return service.login(ctx, credentials)
}

func (service *FrontendService) logoutHandler(ctx echo.Context) error {
	err := service.coreService.Logout(ctx.Request().Context(), backend.SessionToken(ctx))
	backend.ClearSessionCookie(ctx)
	return service.redirectWithFlash(ctx, err, "Sessão encerrada.")
}

func (service *FrontendService) uploadHandler(ctx echo.Context) error {
	name := ctx.Param("filename")
	images := service.coreService.Images()
	path, err := images.Path(name)
	if err != nil || !images.Exists(name) {
		slog.Warn("uploadHandler: image not available",
			"status", http.StatusNotFound, "filename", name)
		return ctx.String(http.StatusNotFound, "Image not available")
	}
	// stored names are unique and never rewritten
	ctx.Response().Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	return ctx.File(path)
}

func (service *FrontendService) markerHandler(ctx echo.Context) error {
	color, err := markerColor(ctx.QueryParam("status"))
	if err != nil {
		return ctx.String(http.StatusBadRequest, err.Error())
	}
	size, err := markerSize(ctx.QueryParam("size"))
	if err != nil {
		return ctx.String(http.StatusBadRequest, err.Error())
	}
	data, err := renderMarker(color, size)
	if err != nil {
		slog.Error("markerHandler: failed to render marker", "status", http.StatusInternalServerError, "error", err)
		return ctx.String(http.StatusInternalServerError, "Failed to render marker")
	}
	// Cache for 7 days
	ctx.Response().Header().Set("Cache-Control", "public, max-age=604800, immutable")
	return ctx.Blob(http.StatusOK, mimePNG, data)
}

func setNoCache(ctx echo.Context) {
	ctx.Response().Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	ctx.Response().Header().Set("Pragma", "no-cache")
	ctx.Response().Header().Set("Expires", "0")
}

