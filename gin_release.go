//go:build release

package main

import (
	"github.com/gin-gonic/gin"
	"github.com/yeti47/clipintake/config"
)

// initializeGin creates the router for release builds. The daemon only serves local callers, so
// forwarding headers are never trusted unless proxies are configured.
func initializeGin(cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if len(cfg.TrustedProxies) > 0 {
		router.SetTrustedProxies(cfg.TrustedProxies)
	} else {
		router.SetTrustedProxies(nil)
	}

	return router
}
