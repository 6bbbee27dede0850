package routes

import (
	"errors"
	"net/http"
	"strings"

	"fleetrent/handlers"
	"fleetrent/utils"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// Handlers 路由所需的 handler
type Handlers struct {
	Payments    *handlers.PaymentHandler
	Rents       *handlers.RentHandler
	Settlements *handlers.SettlementHandler
}

// AuthMiddleware 驗證 JWT token，並提取 employee_id 和 role
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"status":  false,
				"message": "缺少 Authorization 標頭",
				"error":   "Authorization header is required",
				"code":    "ERR_NO_AUTH_HEADER",
			})
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"status":  false,
				"message": "無效的 Authorization 格式",
				"error":   "Authorization header must be in the format 'Bearer <token>'",
				"code":    "ERR_INVALID_AUTH_FORMAT",
			})
			c.Abort()
			return
		}

		// 明確要求檢查 exp 字段
		token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return utils.JWTSecret, nil
		}, jwt.WithExpirationRequired())
		if err != nil {
			logrus.WithError(err).Debug("Token parsing error")
			if errors.Is(err, jwt.ErrTokenExpired) {
				c.JSON(http.StatusUnauthorized, gin.H{
					"status":  false,
					"message": "token 已過期",
					"error":   "Token has expired",
					"code":    "ERR_TOKEN_EXPIRED",
				})
			} else {
				c.JSON(http.StatusUnauthorized, gin.H{
					"status":  false,
					"message": "無效的 token",
					"error":   err.Error(),
					"code":    "ERR_INVALID_TOKEN",
				})
			}
			c.Abort()
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok || !token.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{
				"status":  false,
				"message": "無效的 token 內容",
				"error":   "Invalid token claims or token is not valid",
				"code":    "ERR_INVALID_CLAIMS",
			})
			c.Abort()
			return
		}

		// 確認 employee_id 字段
		employeeID, ok := claims["employee_id"].(float64)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"status":  false,
				"message": "無效的員工 ID",
				"error":   "Invalid employee_id in token",
				"code":    "ERR_INVALID_EMPLOYEE_ID",
			})
			c.Abort()
			return
		}

		// 確認 role 字段
		role, ok := claims["role"].(string)
		if !ok || !utils.ValidRole(role) {
			c.JSON(http.StatusUnauthorized, gin.H{
				"status":  false,
				"message": "無效的角色",
				"error":   "Invalid role in token",
				"code":    "ERR_INVALID_ROLE",
			})
			c.Abort()
			return
		}

		c.Set("employee_id", int(employeeID))
		c.Set("role", role)
		c.Next()
	}
}

// RoleMiddleware 檢查員工角色是否符合要求
func RoleMiddleware(allowedRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := c.Get("role")
		if !exists {
			c.JSON(http.StatusUnauthorized, gin.H{
				"status":  false,
				"message": "無法獲取角色資訊",
				"error":   "Role not found in context",
				"code":    "ERR_ROLE_NOT_FOUND",
			})
			c.Abort()
			return
		}

		roleStr, ok := role.(string)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{
				"status":  false,
				"message": "無效的角色類型",
				"error":   "Invalid role type",
				"code":    "ERR_INVALID_ROLE_TYPE",
			})
			c.Abort()
			return
		}

		// 允許 admin 角色訪問所有端點
		if roleStr == utils.RoleAdmin {
			c.Next()
			return
		}

		for _, allowedRole := range allowedRoles {
			if roleStr == allowedRole {
				c.Next()
				return
			}
		}

		c.JSON(http.StatusForbidden, gin.H{
			"status":  false,
			"message": "權限不足",
			"error":   "Insufficient role permissions",
			"code":    "ERR_INSUFFICIENT_PERMISSIONS",
		})
		c.Abort()
	}
}

func Path(router *gin.RouterGroup, h Handlers) {
	// 版本控制
	v1 := router.Group("/v1")
	{
		// 測試路由
		v1.GET("/ping", func(c *gin.Context) {
			c.JSON(200, gin.H{"message": "pong"})
		})

		authed := v1.Group("")
		authed.Use(AuthMiddleware())

		// 付款路由
		payments := authed.Group("/payments")
		{
			payments.POST("", RoleMiddleware(utils.RoleAgent), h.Payments.CreatePayment)
		}

		// 租賃路由
		rents := authed.Group("/rents")
		{
			rents.GET("/active", RoleMiddleware(utils.RoleAgent), h.Rents.ListActiveRents)
			rents.GET("/:id/summary", RoleMiddleware(utils.RoleAgent), h.Rents.GetRentSummary)
			rents.POST("/:id/complete", RoleMiddleware(utils.RoleAgent), h.Rents.CompleteRent)
		}

		// 結算流程路由
		settlements := authed.Group("/settlements")
		settlements.Use(RoleMiddleware(utils.RoleAgent))
		{
			settlements.POST("", h.Settlements.OpenSettlement)
			settlements.GET("/:sid", h.Settlements.GetSettlement)
			settlements.POST("/:sid/reload", h.Settlements.ReloadSettlement)
			settlements.POST("/:sid/payments", h.Settlements.SubmitPayment)
			settlements.PUT("/:sid/rating", h.Settlements.SetRating)
			settlements.PUT("/:sid/note", h.Settlements.SetNote)
			settlements.POST("/:sid/finalize", h.Settlements.FinalizeSettlement)
			settlements.DELETE("/:sid", h.Settlements.CloseSettlement)
		}
	}
}
