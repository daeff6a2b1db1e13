package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ethaccount/userop/src/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func SetMiddlewares(ctx context.Context, ginRouter *gin.Engine) {
	ginRouter.Use(LoggerMiddleware(ctx))

	ginRouter.NoRoute(func(c *gin.Context) {
		respondWithCustomError(c, http.StatusNotFound, 1002, "Route not found", map[string]interface{}{"path": c.Request.URL.Path})
	})
}

func LoggerMiddleware(ctx context.Context) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)

		zlog := zerolog.Ctx(ctx).With().
			Str("request_id", requestID).
			Str("path", c.FullPath()).
			Str("method", c.Request.Method).
			Logger()
		c.Request = c.Request.WithContext(zlog.WithContext(c.Request.Context()))

		start := time.Now()
		c.Next()

		zlog.Debug().
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request completed")
	}
}

// SharedSecretMiddleware validates the X-API-Secret header
func SharedSecretMiddleware(apiSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Get the secret from request header
		providedSecret := c.GetHeader("X-API-Secret")

		// Check if secret is provided
		if providedSecret == "" {
			err := domain.NewError(
				domain.ErrorCodeAuthNotAuthenticated,
				errors.New("missing API secret header"),
				domain.WithMsg("Missing API secret"),
			)
			respondWithError(c, err)
			return
		}

		// Validate the secret
		if providedSecret != apiSecret {
			err := domain.NewError(
				domain.ErrorCodeAuthNotAuthenticated,
				errors.New("invalid API secret provided"),
				domain.WithMsg("Invalid API secret"),
			)
			respondWithError(c, err)
			return
		}

		// Secret is valid, proceed to next handler
		c.Next()
	}
}
