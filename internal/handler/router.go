package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SetupRouter wires middleware and routes.
func SetupRouter(h *Handler, log *logrus.Logger, mode string) *gin.Engine {
	if mode == "" {
		mode = gin.ReleaseMode
	}
	gin.SetMode(mode)

	r := gin.New()

	r.Use(RecoveryMiddleware(log))
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware())

	api := r.Group("/api/v1")
	{
		auth := api.Group("/auth")
		{
			auth.POST("/register", h.Register)
			auth.POST("/login", h.Login)
		}

		banking := api.Group("/banking")
		banking.Use(AuthMiddleware(h.authService))
		{
			banking.GET("/profile", h.Profile)
			banking.POST("/add-money", h.AddMoney)
			banking.POST("/send-money", h.SendMoney)
			banking.GET("/transactions", h.Transactions)
		}
	}

	r.GET("/health", h.Health)

	return r
}
