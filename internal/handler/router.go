package handler

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"vault-service/pkg/middleware"
)

// NewRouter wires the API surface behind CORS and bearer auth.
func NewRouter(jwtSecret string, files *FileHandler, crs *CRHandler) *gin.Engine {
	r := gin.Default()

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	r.Use(cors.New(corsCfg))

	r.GET("/public/:token", files.PublicContent)

	api := r.Group("/api")
	api.Use(middleware.Auth(jwtSecret))

	f := api.Group("/files")
	{
		f.GET("", files.Browse)
		f.GET("/search", files.Search)
		f.GET("/content", files.Content)
		f.GET("/history", files.History)
		f.GET("/diff", files.Diff)
		f.GET("/share", files.ShareInfo)
		f.POST("/save", files.Save)
		f.POST("/upload", files.Upload)
		f.POST("/delete", files.Delete)
		f.POST("/restore", files.Restore)
		f.POST("/toggle-public", files.TogglePublic)
		f.POST("/toggle-archive", files.ToggleArchive)
		f.POST("/folder", files.CreateFolder)
		f.DELETE("/folder", files.DeleteFolder)
	}

	cr := api.Group("/cr")
	{
		cr.GET("", crs.List)
		cr.POST("", crs.Create)
		cr.GET("/:id", crs.Get)
		cr.PATCH("/:id", crs.Update)
		cr.POST("/:id/files", crs.StageFile)
		cr.DELETE("/:id/files/:fileID", crs.RemoveFile)
		cr.GET("/:id/files/:fileID/diff", crs.FileDiff)
		cr.POST("/:id/submit", crs.Submit)
		cr.POST("/:id/review", crs.Review)
		cr.POST("/:id/merge", crs.Merge)
		cr.POST("/:id/close", crs.Close)
	}

	return r
}
