package server

import (
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-contrib/requestid"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// installRootGinMiddlewares installs the middlewares that must run before
// anything else touches the request: a request-id for correlating log
// lines across the handler and any downstream calls, and gin's context
// fallback so handlers can use c.Request.Context() interchangeably with
// c.Done().
func installRootGinMiddlewares(router *gin.Engine) {
	router.ContextWithFallback = true
	router.Use(requestid.New())
}

// installCommonGinMiddlewares installs structured access logging, panic
// recovery, and gzip compression: logging/recovery wrap the handler
// chain, gzip sits closest to the response body.
func installCommonGinMiddlewares(router *gin.Engine, logger *zap.Logger) {
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))
	router.Use(gzip.Gzip(gzip.DefaultCompression))
}
