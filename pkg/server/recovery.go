package server

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Recovery turns panics into 500 responses. http.ErrAbortHandler is re-raised
// so net/http drops the connection and a streaming client sees a read error.
func Recovery(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			logger.Error("Panic recovered", "error", rec, "path", c.Request.URL.Path)
			if !c.Writer.Written() {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
				return
			}
			c.Abort()
		}()
		c.Next()
	}
}
