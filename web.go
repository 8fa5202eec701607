package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/filesystem"
	"github.com/rs/zerolog/log"
)

//go:embed static
var staticFS embed.FS
var isDebug = os.Getenv("DEBUG") == "1"

type Config struct {
	RootDir          string
	Store            *Store
	Sessions         *Sessions
	OnBeforeShutdown func()
	OnReady          func(addr string)
}

type WebApp struct {
	config       Config
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

// NewWebApp returns an app that is not yet listening; call Run to start it.
func NewWebApp(config Config) *WebApp {
	return &WebApp{
		config:     config,
		shutdownCh: make(chan struct{}),
	}
}

// Shutdown stops a running app. It is safe to call more than once.
func (a *WebApp) Shutdown() {
	a.shutdownOnce.Do(func() {
		close(a.shutdownCh)
	})
}

// httpError maps domain errors onto HTTP status codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrMemberNotFound), errors.Is(err, ErrPhotoNotFound),
		errors.Is(err, ErrSourceNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidReference):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrSourceUnavailable):
		return fiber.NewError(http.StatusBadGateway, err.Error())
	case errors.Is(err, ErrDecode):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrNoLayout), errors.Is(err, ErrInvalidGeometry):
		return fiber.NewError(http.StatusConflict, err.Error())
	default:
		return err
	}
}

func badRequest(err error) error {
	return fiber.NewError(http.StatusBadRequest, err.Error())
}

func (a *WebApp) handler(ctx context.Context) *fiber.App {
	webapp := fiber.New(fiber.Config{
		Immutable:             true,
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			log.Ctx(ctx).Error().
				Err(err).
				Str("path", c.Path()).
				Str("method", c.Method()).
				Msg("Request failed")
			var fiberErr *fiber.Error
			if errors.As(err, &fiberErr) {
				if fiberErr.Code == http.StatusNotFound && c.Path() == "/favicon.ico" {
					return nil
				}
				return c.Status(fiberErr.Code).JSON(fiber.Map{"error": fiberErr.Message})
			}
			return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "Internal Server Error"})
		},
	})

	api := webapp.Group("/api")
	a.galleryRoutes(ctx, api)
	a.memberRoutes(api)
	a.cropRoutes(ctx, api)

	api.Post("/shutdown", func(c *fiber.Ctx) error {
		a.Shutdown()
		return c.SendStatus(http.StatusNoContent)
	})

	if isDebug {
		log.Debug().Msg("Debug mode enabled, serving static files from './static' directory")
		webapp.Static("/", "static")
	} else {
		webapp.Use("/", filesystem.New(filesystem.Config{
			Root:       http.FS(staticFS),
			PathPrefix: "/static",
		}))
	}
	return webapp
}

func (a *WebApp) galleryRoutes(ctx context.Context, api fiber.Router) {
	filesRoot := http.Dir(a.config.RootDir)
	api.Get("/view", func(c *fiber.Ctx) error {
		filePath := c.Query("file")
		if !isImageFile(filePath) {
			return fiber.ErrNotFound
		}
		return filesystem.SendFile(c, filesRoot, filePath)
	})

	api.Get("/ls", func(c *fiber.Ctx) error {
		dir, err := walkImages(ctx, a.config.RootDir)
		if err != nil {
			return fmt.Errorf("failed to walk dir: %w", err)
		}
		return c.JSON(dir)
	})
}

func (a *WebApp) memberRoutes(api fiber.Router) {
	store := a.config.Store

	api.Get("/generations", func(c *fiber.Ctx) error {
		type generationView struct {
			Generation
			Label   string   `json:"label"`
			Members []Member `json:"members"`
		}
		out := make([]generationView, 0, len(Generations))
		for _, g := range Generations {
			out = append(out, generationView{
				Generation: g,
				Label:      GenerationText(g.Level),
				Members:    store.GenerationMembers(g.Level),
			})
		}
		return c.JSON(out)
	})

	api.Get("/members", func(c *fiber.Ctx) error {
		if q := c.Query("generation"); q != "" {
			gen, err := strconv.Atoi(q)
			if err != nil {
				return badRequest(fmt.Errorf("invalid generation %q", q))
			}
			return c.JSON(store.GenerationMembers(gen))
		}
		return c.JSON(store.List())
	})

	api.Get("/members/:id", func(c *fiber.Ctx) error {
		m, err := store.Get(c.Params("id"))
		if err != nil {
			return httpError(err)
		}
		var response struct {
			Member
			Theme *MemorialTheme `json:"theme,omitempty"`
		}
		response.Member = m
		if theme, ok := m.Theme(); ok {
			response.Theme = &theme
		}
		return c.JSON(response)
	})

	api.Put("/members/:id", func(c *fiber.Ctx) error {
		var m Member
		if err := c.BodyParser(&m); err != nil {
			return badRequest(err)
		}
		m.ID = c.Params("id")
		if err := store.Update(m); err != nil {
			return httpError(err)
		}
		return c.JSON(m)
	})

	api.Get("/members/:id/photos", func(c *fiber.Ctx) error {
		photos, err := store.Photos(c.Params("id"))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(photos)
	})

	api.Post("/members/:id/photos", func(c *fiber.Ctx) error {
		var p Photo
		if err := c.BodyParser(&p); err != nil {
			return badRequest(err)
		}
		added, err := store.AddPhoto(c.Params("id"), p)
		if err != nil {
			if errors.Is(err, ErrMemberNotFound) {
				return httpError(err)
			}
			return badRequest(err)
		}
		return c.Status(http.StatusCreated).JSON(added)
	})

	api.Delete("/members/:id/photos/:photoId", func(c *fiber.Ctx) error {
		if err := store.DeletePhoto(c.Params("id"), c.Params("photoId")); err != nil {
			return httpError(err)
		}
		return c.SendStatus(http.StatusNoContent)
	})
}

func (a *WebApp) cropRoutes(ctx context.Context, api fiber.Router) {
	sessions := a.config.Sessions

	api.Post("/crop/sessions", func(c *fiber.Ctx) error {
		var req OpenRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(err)
		}
		if req.ImageURL == "" {
			return badRequest(errors.New("imageUrl is required"))
		}
		st, err := sessions.Open(ctx, req)
		if err != nil {
			return httpError(err)
		}
		return c.Status(http.StatusCreated).JSON(st)
	})

	api.Get("/crop/sessions/:id", func(c *fiber.Ctx) error {
		st, err := sessions.Get(c.Params("id"))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(st)
	})

	api.Put("/crop/sessions/:id/container", func(c *fiber.Ctx) error {
		var size Size
		if err := c.BodyParser(&size); err != nil {
			return badRequest(err)
		}
		st, err := sessions.Resize(c.Params("id"), size)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(st)
	})

	api.Post("/crop/sessions/:id/pointer", func(c *fiber.Ctx) error {
		var ev PointerEvent
		if err := c.BodyParser(&ev); err != nil {
			return badRequest(err)
		}
		st, err := sessions.Pointer(c.Params("id"), ev)
		if err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				return httpError(err)
			}
			return badRequest(err)
		}
		return c.JSON(st)
	})

	api.Post("/crop/sessions/:id/confirm", func(c *fiber.Ctx) error {
		image, err := sessions.Confirm(ctx, c.Params("id"))
		if err != nil {
			return httpError(err)
		}
		return c.JSON(fiber.Map{"image": image})
	})

	api.Delete("/crop/sessions/:id", func(c *fiber.Ctx) error {
		if err := sessions.Cancel(c.Params("id")); err != nil {
			return httpError(err)
		}
		return c.SendStatus(http.StatusNoContent)
	})
}

// Run serves the app on a random localhost port until ctx is done or
// Shutdown is called.
func (a *WebApp) Run(ctx context.Context) error {
	webapp := a.handler(ctx)

	webapp.Hooks().OnListen(func(listen fiber.ListenData) error {
		if fn := a.config.OnReady; fn != nil {
			fn(fmt.Sprintf("http://%s:%s", listen.Host, listen.Port))
		}
		return nil
	})

	go func() {
		select {
		case <-ctx.Done():
		case <-a.shutdownCh:
		}
		if fn := a.config.OnBeforeShutdown; fn != nil {
			fn()
		}
		if err := webapp.ShutdownWithTimeout(5 * time.Second); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("Failed to shutdown web application")
		}
	}()

	// Let the OS assign a random available port
	listener, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", 0))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	if err := webapp.Listener(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}
