package frontend

import (
	"context"
	"io/fs"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/hrygo/supportdesk/internal/profile"
)

// apiPrefixes are served by the API router, never by the static handler.
var apiPrefixes = []string{"/api", "/ask", "/history", "/callback", "/metrics", "/healthz"}

type FrontendService struct {
	Profile *profile.Profile
}

func NewFrontendService(profile *profile.Profile) *FrontendService {
	return &FrontendService{
		Profile: profile,
	}
}

func (*FrontendService) Serve(_ context.Context, e *echo.Echo) {
	dist := getFileSystem("dist")

	// Webhook acknowledgements are tiny and some platforms mishandle compressed replies.
	e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Level: 5,
		Skipper: func(c echo.Context) bool {
			return hasPrefixes(c.Request().URL.Path, "/callback", "/metrics")
		},
	}))

	skipper := func(c echo.Context) bool {
		if hasPrefixes(c.Request().URL.Path, apiPrefixes...) {
			return true
		}

		// Security: Prevent MIME type sniffing
		c.Response().Header().Set("X-Content-Type-Options", "nosniff")

		// The UI is two small files; always revalidate so deploys show up immediately.
		ext := filepath.Ext(c.Request().URL.Path)
		if ext == "" || ext == ".html" || ext == ".js" {
			setNoCache(c)
		} else {
			c.Response().Header().Set(echo.HeaderCacheControl, "public, max-age=3600")
		}
		return false
	}

	e.Use(middleware.StaticWithConfig(middleware.StaticConfig{
		Filesystem: http.FS(dist),
		Skipper:    skipper,
	}))

	// Alias kept for links to the original UI path.
	e.GET("/chatbot_ui", func(c echo.Context) error {
		setNoCache(c)
		return echo.StaticFileHandler("index.html", dist)(c)
	})
}

func setNoCache(c echo.Context) {
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache, no-store, must-revalidate")
	c.Response().Header().Set("Pragma", "no-cache")
	c.Response().Header().Set("Expires", "0")
}

func hasPrefixes(src string, prefixes ...string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(src, prefix) {
			return true
		}
	}
	return false
}

func getFileSystem(path string) fs.FS {
	sub, err := fs.Sub(embeddedFiles, path)
	if err != nil {
		panic(err)
	}
	return sub
}
