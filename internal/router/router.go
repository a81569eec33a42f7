package router

import (
	"html/template"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/student-directory/internal/config"
	"github.com/stemsi/student-directory/internal/handler"
	"github.com/stemsi/student-directory/internal/metrics"
	"github.com/stemsi/student-directory/internal/middleware"
	"github.com/stemsi/student-directory/internal/response"
	"github.com/stemsi/student-directory/internal/validator"
	"github.com/stemsi/student-directory/internal/view"
)

// photoMaxAge is how long browsers may reuse a profile photo.
const photoMaxAge = 300

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Student *handler.StudentHandler
	Photo   *handler.PhotoHandler
	Health  *handler.HealthHandler
}

// SetupRouter configures the Gin engine. limiter guards the mutating
// routes; the caller owns it and stops it on shutdown.
func SetupRouter(
	handlers *Handlers,
	limiter *middleware.RateLimiter,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	validator.Setup()

	router := gin.New()
	router.Use(gin.Recovery())
	router.SetHTMLTemplate(template.Must(view.Templates()))
	router.MaxMultipartMemory = cfg.MaxUploadBytes

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "Location"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Request ID first so the logger and every response carry it.
	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.BrotliWithConfig(middleware.BrotliConfig{
		ExcludedPaths: []string{"/metrics"},
	}))

	router.GET("/health", handlers.Health.Health)
	if cfg.MetricsEnabled {
		router.GET("/metrics", gin.WrapH(metrics.Handler()))
	}

	router.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusFound, "/students")
	})

	write := limiter.Middleware()

	students := router.Group("/students")
	students.Use(middleware.NoStore())
	{
		students.GET("", handlers.Student.Index)
		students.GET("/new", handlers.Student.New)
		students.POST("", write, handlers.Student.Create)
		students.GET("/:id", handlers.Student.Show)
		students.DELETE("/:id", write, handlers.Student.Delete)
		students.POST("/:id", write, handlers.Student.MethodOverride)
	}

	photos := router.Group("/students/:id/photo")
	{
		photos.GET("", middleware.CacheControl("private", photoMaxAge), handlers.Photo.Show)
		photos.POST("", write, handlers.Photo.Upload)
		photos.DELETE("", write, handlers.Photo.Delete)
	}

	return router
}
