package httpapi

import (
	"github.com/gin-gonic/gin"

	"pmuwatch/internal/warning"
)

// NewRouter builds the gin engine exposing the external interfaces
// named in spec.md §6, bound to manager.
func NewRouter(manager *warning.Manager, ginMode string) *gin.Engine {
	gin.SetMode(ginMode)
	r := gin.New()
	r.Use(gin.Recovery())

	NewWarningsHandler(manager).Register(r)
	return r
}
