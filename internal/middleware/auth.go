package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/yunketang/playback-backend/internal/config"
	"github.com/yunketang/playback-backend/pkg/response"
)

// AuthClaims 平台访问令牌声明
// 由平台认证中心签发，本服务只做校验
type AuthClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"uid"`
	Role   string `json:"role,omitempty"` // admin 拥有全部课程的播放权限
}

// JWTAuth 平台认证中间件
// 未认证的请求在此被拒绝，不会到达限流与并发检查
func JWTAuth(cfg *config.AuthConfig) gin.HandlerFunc {
	secret := []byte(cfg.Secret)
	return func(c *gin.Context) {
		// 从 Authorization 头获取令牌
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.ErrorWithMsg(c, response.CodeUnauthorized, "未提供认证令牌")
			c.Abort()
			return
		}

		// 检查 Bearer 前缀
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.ErrorWithMsg(c, response.CodeUnauthorized, "认证令牌格式错误")
			c.Abort()
			return
		}

		claims := &AuthClaims{}
		token, err := jwt.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("不支持的签名算法")
			}
			return secret, nil
		})
		if err != nil || !token.Valid {
			response.Error(c, response.CodeUnauthorized)
			c.Abort()
			return
		}

		// 校验签发者，播放令牌与平台令牌不可互换
		if cfg.Issuer != "" && claims.Issuer != cfg.Issuer {
			response.Error(c, response.CodeUnauthorized)
			c.Abort()
			return
		}

		if claims.UserID == "" {
			claims.UserID = claims.Subject
		}
		if claims.UserID == "" {
			response.Error(c, response.CodeUnauthorized)
			c.Abort()
			return
		}

		// 将用户信息存入上下文
		c.Set("user_id", claims.UserID)
		c.Set("role", claims.Role)
		c.Set("is_admin", claims.Role == "admin")

		c.Next()
	}
}
