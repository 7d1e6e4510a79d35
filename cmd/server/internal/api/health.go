package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/houzhh15/wpmnorm/cmd/server/internal/orchestrator/health"
)

// HandleHealthz 返回依赖健康状态，任一依赖不健康时返回 503
// GET /healthz
//
//	{
//	  "success": true,
//	  "data": {
//	    "healthy": true,
//	    "dependencies": {"asr": {"is_healthy": true, ...}, "audio_tools": {...}}
//	  }
//	}
func HandleHealthz(checker *health.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if checker == nil {
			successResponse(c, http.StatusOK, gin.H{"healthy": true})
			return
		}
		healthy := checker.Healthy()
		code := http.StatusOK
		if !healthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"success": healthy,
			"data": gin.H{
				"healthy":      healthy,
				"dependencies": checker.GetStatus(),
			},
		})
	}
}
