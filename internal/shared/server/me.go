package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"resume-check/internal/shared/server/middleware"
	"resume-check/internal/shared/server/respond"
	"resume-check/internal/usage"
)

// registerMeRoutes attaches the /me endpoint, an identity echo for clients.
func registerMeRoutes(rg *gin.RouterGroup) {
	rg.GET("/me", meHandler)
}

func meHandler(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	if userID == "" {
		respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
		return
	}

	response := gin.H{
		"userId":  userID,
		"plan":    usage.PlanForUser(userID, middleware.UserPlanFromContext(c)),
		"isGuest": middleware.IsGuestFromContext(c),
	}
	if email := middleware.UserEmailFromContext(c); email != "" {
		response["email"] = email
	}
	if name := middleware.UserNameFromContext(c); name != "" {
		response["name"] = name
	}

	respond.JSON(c, http.StatusOK, response)
}
