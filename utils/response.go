package utils

import (
	"github.com/gin-gonic/gin"
)

// JSONResponse sends a structured JSON response. Payload keys sit beside
// status and message at the top level of the body.
func JSONResponse(c *gin.Context, status int, payload gin.H, message string) {
	body := gin.H{
		"status":  status,
		"message": message,
	}
	for k, v := range payload {
		body[k] = v
	}
	c.JSON(status, body)
}

// JSONError sends a structured error response
func JSONError(c *gin.Context, status int, err error, message string) {
	c.JSON(status, gin.H{
		"status":  status,
		"message": message,
		"error":   err.Error(),
	})
}
