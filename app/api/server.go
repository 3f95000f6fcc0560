package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
)

// NewServer creates a new HTTP server with all routes configured
func NewServer(handler *Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
	}))

	r.Use(gin.Recovery())

	setupRoutes(r, handler)

	return r
}

func setupRoutes(r *gin.Engine, handler *Handler) {
	r.GET("/health", handler.GetHealth)
	r.GET("/stats", handler.GetStats)

	feeds := r.Group("/feeds")
	{
		feeds.GET("", handler.ListFeeds)
		feeds.POST("", handler.AddFeed)
		feeds.GET("/details", handler.GetFeedDetails)
		feeds.DELETE("", handler.DeleteFeed)
		feeds.POST("/update", handler.UpdateFeeds)
		feeds.POST("/user-title", handler.SetFeedUserTitle)
		feeds.POST("/enable", handler.EnableFeedUpdates)
		feeds.POST("/disable", handler.DisableFeedUpdates)
	}

	entries := r.Group("/entries")
	{
		entries.GET("", handler.ListEntries)
		entries.POST("/read", handler.SetEntryRead)
		entries.POST("/important", handler.SetEntryImportant)
	}

	search := r.Group("/search")
	{
		search.GET("", handler.SearchEntries)
		search.POST("/enable", handler.EnableSearch)
		search.POST("/disable", handler.DisableSearch)
		search.POST("/update", handler.UpdateSearch)
	}

	// Favicon handler (return 204 to avoid 404s)
	r.GET("/favicon.ico", func(c *gin.Context) {
		c.Status(204)
	})
}
