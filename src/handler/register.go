package handler

import (
	"context"
	"net/http"
	"reflect"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

type RouteConfig struct {
	UserOperations UserOperationAPI
	// APISecret protects the send endpoint when set
	APISecret string
}

func RegisterRoutes(ctx context.Context, router *gin.Engine, config RouteConfig) {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
			if value, ok := field.Interface().(decimal.Decimal); ok {
				return value.String()
			}
			return nil
		}, decimal.Decimal{})
	}

	SetMiddlewares(ctx, router)

	router.GET("/health", handleHealthCheck)

	userOpHandler := NewUserOperationHandler(config.UserOperations)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", handleHealthCheck)

		userops := v1.Group("/userops")
		userops.POST("/prepare", userOpHandler.PrepareUserOperation)
		if config.APISecret != "" {
			userops.POST("/send", SharedSecretMiddleware(config.APISecret), userOpHandler.SendUserOperation)
		} else {
			userops.POST("/send", userOpHandler.SendUserOperation)
		}
		userops.GET("/:hash", userOpHandler.GetUserOperation)
	}
}

// HealthCheck godoc
// @Summary Health check endpoint
// @Description Check if the service is running
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func handleHealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "ok"})
}
