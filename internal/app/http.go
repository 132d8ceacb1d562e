package app

import (
	"net/http"

	"github.com/gin-gonic/gin"

	cfgpkg "github.com/taoyao-code/brick-gateway/internal/config"
	"github.com/taoyao-code/brick-gateway/internal/httpserver"
	"github.com/taoyao-code/brick-gateway/internal/session"
)

// NewHTTPServer 根据配置创建状态 HTTP 服务器
func NewHTTPServer(cfg cfgpkg.HTTPConfig, metricsPath string, metricsHandler http.Handler, readyFn func() bool) *httpserver.Server {
	return httpserver.New(cfg, metricsPath, metricsHandler, readyFn)
}

// RegisterStatusRoutes GET /status 返回会话快照
func RegisterStatusRoutes(r gin.IRoutes, sess *session.Session) {
	r.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, sess.Snapshot())
	})
}
