//go:build !release

package main

import (
	"github.com/gin-gonic/gin"
	"github.com/yeti47/clipintake/config"
)

// initializeGin creates the router for development builds
func initializeGin(_ *config.Config) *gin.Engine {
	return gin.New()
}
