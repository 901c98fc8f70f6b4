package ports

import (
	"github.com/gin-gonic/gin"
)

// HTTPHandler is the REST surface of session control.
type HTTPHandler interface {
	SetupRoutes(router gin.IRouter)

	Start(c *gin.Context)
	Stop(c *gin.Context)
	GetPlan(c *gin.Context)

	ListStreams(c *gin.Context)
	AddStream(c *gin.Context)
	RemoveStream(c *gin.Context)

	ListSinks(c *gin.Context)
	AddSink(c *gin.Context)
	RemoveSink(c *gin.Context)
	Preview(c *gin.Context)
}
