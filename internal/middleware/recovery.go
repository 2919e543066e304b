package middleware

import (
	"fmt"
	"net/http"

	"github.com/aman-churiwal/inventory-gateway/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error().
					Str("request_id", c.GetString(ContextRequestID)).
					Str("panic", fmt.Sprint(err)).
					Msg("PANIC")

				abortWithError(c, http.StatusInternalServerError, models.CodeSystemError, "Internal Server Error")
			}
		}()
		c.Next()
	}
}
