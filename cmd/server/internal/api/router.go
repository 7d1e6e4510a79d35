package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/houzhh15/wpmnorm/cmd/server/internal/middleware"
	"github.com/houzhh15/wpmnorm/cmd/server/internal/orchestrator/health"
)

// RouterOptions 路由依赖
type RouterOptions struct {
	Jobs        *JobHandlers
	Health      *health.HealthChecker
	CORSOrigins []string
}

// NewRouter 注册全部路由
func NewRouter(opts RouterOptions) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(), middleware.CORS(opts.CORSOrigins))

	r.GET("/healthz", HandleHealthz(opts.Health))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	{
		// 上传体积上限在处理器中按文件大小校验，这里额外留出 multipart 开销
		limit := int64(0)
		if opts.Jobs.maxUploadBytes > 0 {
			limit = opts.Jobs.maxUploadBytes + 1<<20
		}
		v1.POST("/jobs", middleware.MaxBodySize(limit), opts.Jobs.Create)
		v1.GET("/jobs/:id", opts.Jobs.Get)
		v1.POST("/jobs/:id/adjust", middleware.MaxBodySize(1<<20), opts.Jobs.Adjust)
		v1.GET("/jobs/:id/download", opts.Jobs.Download)
	}
	return r
}
