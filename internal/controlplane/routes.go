package controlplane

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/provtrack/repostore/internal/controlplane/handlers"
	"github.com/provtrack/repostore/internal/controlplane/middleware"
	"github.com/provtrack/repostore/internal/version"
)

func SetupRoutes(store handlers.Store, config *Config) (http.Handler, error) {
	rate := config.RateLimit
	if rate == "" {
		rate = middleware.DefaultRate
	}
	rateLimiter, err := middleware.RateLimiter(rate)
	if err != nil {
		return nil, err
	}

	r := gin.New()
	r.MaxMultipartMemory = 8 << 20

	collectionH := handlers.NewCollectionHandler(store)
	syncH := handlers.NewSyncHandler(store)
	fileH := handlers.NewFileHandler(store, config.MaxUpload)
	statusH := handlers.NewStatusHandler(store)

	r.Use(middleware.Logger())
	r.Use(gin.Recovery())
	r.Use(middleware.CORS())
	r.Use(middleware.Gzip())
	r.Use(rateLimiter)

	r.GET("/", IndexHandler)
	r.GET("/healthz", HealthHandler)

	v1 := r.Group("/v1")
	v1.Use(middleware.TokenAuth(middleware.TokenAuthConfig{Token: config.AuthToken}))
	{
		v1.GET("/status", statusH.Status)
		v1.GET("/probe", statusH.Probe)

		v1.GET("/collections/*name", collectionH.Get)
		v1.PUT("/collections/*name", collectionH.Put)

		v1Sync := v1.Group("/sync")
		{
			v1Sync.GET("/mode", syncH.GetMode)
			v1Sync.PUT("/mode", syncH.SetMode)
			v1Sync.POST("/backup", syncH.Backup)
			v1Sync.POST("/pull/*name", syncH.Pull)
			v1Sync.POST("/push/*name", syncH.Push)
			v1Sync.POST("/migrate/*name", syncH.Migrate)
		}

		v1Files := v1.Group("/files")
		{
			v1Files.GET("", fileH.List)
			v1Files.POST("/upload", fileH.Upload)
			v1Files.POST("/download", fileH.Download)
			v1Files.POST("/delete", fileH.Delete)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "not found",
		})
	})

	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{
			"error": "method not allowed",
		})
	})

	return r.Handler(), nil
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}

func IndexHandler(c *gin.Context) {
	c.JSON(http.StatusOK, version.Detailed())
}

func HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
