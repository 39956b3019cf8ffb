package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/mossy-p/onair/internal/middleware"
	"github.com/mossy-p/onair/internal/models"
)

// LoginRequest is the login request body. Identity is an opaque input here;
// the external account system is out of scope.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Role     string `json:"role"`
}

// LoginResponse carries the signed token back to the client.
type LoginResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Login issues an HS256 token with the caller's user id and role claims.
// The role claim feeds the moderation endpoints.
func Login(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		role := req.Role
		if role == "" {
			role = models.RoleListener
		}

		claims := middleware.JWTClaims{
			UserID: req.Username,
			Role:   role,
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
				IssuedAt:  jwt.NewNumericDate(time.Now()),
				NotBefore: jwt.NewNumericDate(time.Now()),
			},
		}

		token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		tokenString, err := token.SignedString([]byte(jwtSecret))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
			return
		}

		c.JSON(http.StatusOK, LoginResponse{
			Token:  tokenString,
			UserID: req.Username,
			Role:   role,
		})
	}
}
