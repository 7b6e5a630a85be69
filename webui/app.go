package webui

import (
	"embed"
	"net/http"

	fiber "github.com/gofiber/fiber/v2"
	"github.com/gofiber/template/html/v2"
)

//go:embed views/*.html
var viewsfs embed.FS

type App struct {
	config *Config
	*fiber.App
}

// NewApp builds the dashboard and API surface over the configured store,
// orchestrator and resonance engine.
func NewApp(opts ...Option) *App {
	config := NewConfig(opts...)
	engine := html.NewFileSystem(http.FS(viewsfs), ".html")

	webapp := fiber.New(fiber.Config{
		Views:                 engine,
		DisableStartupMessage: true,
	})

	a := &App{
		config: config,
		App:    webapp,
	}

	a.registerRoutes(webapp)

	return a
}
