// Package handler HTTP 处理器
package handler

import (
	"errors"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/yunketang/playback-backend/internal/repository"
	"github.com/yunketang/playback-backend/internal/service"
	"github.com/yunketang/playback-backend/pkg/response"
	"go.uber.org/zap"
)

// PlaybackHandler 播放授权处理器
// 编排令牌签发（Flow A）与清单获取（Flow B）两条请求流
type PlaybackHandler struct {
	courseService  service.CourseService
	sessionService service.PlaybackSessionService
	tokenService   service.PlaybackTokenService
	signer         service.ResourceSigner
	limiter        *service.RateLimiter
	logger         *zap.Logger
}

// NewPlaybackHandler 创建播放授权处理器
func NewPlaybackHandler(
	courseSvc service.CourseService,
	sessionSvc service.PlaybackSessionService,
	tokenSvc service.PlaybackTokenService,
	signer service.ResourceSigner,
	limiter *service.RateLimiter,
	logger *zap.Logger,
) *PlaybackHandler {
	return &PlaybackHandler{
		courseService:  courseSvc,
		sessionService: sessionSvc,
		tokenService:   tokenSvc,
		signer:         signer,
		limiter:        limiter,
		logger:         logger,
	}
}

// TokenRequest 播放令牌请求
type TokenRequest struct {
	CourseID string `json:"course_id" binding:"required"`
}

// TokenResponse 播放令牌响应
type TokenResponse struct {
	PlaybackToken        string `json:"playback_token"`
	SessionID            string `json:"session_id"`
	ExpiresIn            int    `json:"expires_in"` // 秒
	MaxConcurrentStreams int    `json:"max_concurrent_streams"`
}

// ManifestResponse 清单访问响应
// 单请求客户端使用签名 URL，流式客户端使用签名 Cookie
type ManifestResponse struct {
	ManifestURL   string               `json:"manifest_url"`
	SignedCookies *service.CookieGrant `json:"signed_cookies"`
	ExpiresIn     int                  `json:"expires_in"` // 秒
	Asset         AssetMetadata        `json:"asset"`
}

// AssetMetadata 资源元信息
type AssetMetadata struct {
	CourseID        string `json:"course_id"`
	Title           string `json:"title"`
	DurationSeconds int    `json:"duration_seconds"`
}

// CreateToken 签发播放令牌
// POST /api/v1/playback/token
// 严格顺序：认证（中间件）→ 授权 → 限流 → 并发准入 → 签发；
// 颠倒顺序会让突发请求绕过并发上限
func (h *PlaybackHandler) CreateToken(c *gin.Context) {
	userID := c.GetString("user_id")
	isAdmin := c.GetBool("is_admin")

	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithMsg(c, response.CodeMissingParam, "缺少课程 ID")
		return
	}

	// 课程必须存在
	if _, err := h.courseService.GetByID(c.Request.Context(), req.CourseID); err != nil {
		if errors.Is(err, repository.ErrCourseNotFound) {
			response.Error(c, response.CodeCourseNotFound)
			return
		}
		response.Error(c, response.CodeServerError)
		return
	}

	// 授权：管理员直通或已通过报名
	allowed, err := h.courseService.HasAccess(c.Request.Context(), userID, req.CourseID, isAdmin)
	if err != nil {
		response.Error(c, response.CodeServerError)
		return
	}
	if !allowed {
		response.Error(c, response.CodeForbidden)
		return
	}

	// 限流在并发检查之前
	limit, err := h.limiter.Allow(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("限流计数失败", zap.String("user_id", userID), zap.Error(err))
		response.Error(c, response.CodeServerError)
		return
	}
	if !limit.Allowed {
		response.ErrorWithData(c, response.CodeRateLimited, gin.H{
			"reason":              "rate_limited",
			"ceiling":             h.limiter.Ceiling(),
			"retry_after_seconds": int(limit.RetryAfter.Seconds()) + 1,
		})
		return
	}

	// 并发准入与会话创建是一个原子步骤
	session, err := h.sessionService.Admit(c.Request.Context(), userID, req.CourseID, c.ClientIP())
	if err != nil {
		if errors.Is(err, service.ErrTooManyStreams) {
			response.ErrorWithData(c, response.CodeTooManyStreams, gin.H{
				"reason":                 "too_many_streams",
				"max_concurrent_streams": h.sessionService.Ceiling(),
			})
			return
		}
		h.logger.Error("播放会话准入失败", zap.String("user_id", userID), zap.Error(err))
		response.Error(c, response.CodeServerError)
		return
	}

	token, err := h.tokenService.Mint(
		c.Request.Context(),
		userID, req.CourseID, session.ID,
		c.Request.UserAgent(),
		0, // 使用配置的默认有效期
	)
	if err != nil {
		h.logger.Error("播放令牌签发失败", zap.String("user_id", userID), zap.Error(err))
		response.Error(c, response.CodeServerError)
		return
	}

	response.Success(c, TokenResponse{
		PlaybackToken:        token,
		SessionID:            session.ID,
		ExpiresIn:            int(h.tokenService.TTL().Seconds()),
		MaxConcurrentStreams: h.sessionService.Ceiling(),
	})
}

// Manifest 获取清单访问授权
// GET /api/v1/playback/manifest?course_id=...
// 必须先验证令牌，再刷新会话与签发授权，顺序颠倒会为无效凭证延长会话或泄露签名 URL
func (h *PlaybackHandler) Manifest(c *gin.Context) {
	courseID := c.Query("course_id")
	if courseID == "" {
		response.ErrorWithMsg(c, response.CodeMissingParam, "缺少课程 ID")
		return
	}

	tokenString := bearerToken(c)
	if tokenString == "" {
		response.Error(c, response.CodeInvalidToken)
		return
	}

	// 验证播放令牌；具体失败原因只进日志，对外统一"播放令牌无效"，
	// 避免给探测客户端绑定机制的攻击者提供谕示
	claims, err := h.tokenService.Verify(c.Request.Context(), tokenString, c.Request.UserAgent())
	if err != nil {
		h.logger.Warn("播放令牌验证失败",
			zap.String("course_id", courseID),
			zap.String("ip", c.ClientIP()),
			zap.Error(err),
		)
		response.Error(c, response.CodeInvalidToken)
		return
	}

	// 令牌与请求课程交叉校验，阻止用课程 A 的令牌访问课程 B
	if claims.CourseID != courseID {
		h.logger.Warn("播放令牌课程不匹配",
			zap.String("token_course_id", claims.CourseID),
			zap.String("request_course_id", courseID),
			zap.String("user_id", claims.UserID),
		)
		response.Error(c, response.CodeCourseMismatch)
		return
	}

	course, err := h.courseService.GetPlaybackAsset(c.Request.Context(), courseID)
	if err != nil {
		if errors.Is(err, repository.ErrCourseNotFound) {
			response.Error(c, response.CodeCourseNotFound)
			return
		}
		if errors.Is(err, service.ErrAssetNotReady) {
			// 可重试状态，透出处理进度供客户端轮询
			response.ErrorWithData(c, response.CodeAssetNotReady, gin.H{
				"status": course.Status,
			})
			return
		}
		response.Error(c, response.CodeServerError)
		return
	}

	// 刷新会话活跃时间；簿记写入失败不阻断本次播放
	if err := h.sessionService.Touch(c.Request.Context(), claims.SessionID, claims.UserID); err != nil {
		h.logger.Warn("刷新会话活跃时间失败",
			zap.String("session_id", claims.SessionID),
			zap.Error(err),
		)
	}

	grantTTL := h.signer.GrantTTL()
	manifestURL, err := h.signer.SignURL(course.AssetPath, grantTTL)
	if err != nil {
		h.logger.Error("签发清单 URL 失败", zap.String("course_id", courseID), zap.Error(err))
		response.Error(c, response.CodeServerError)
		return
	}

	// Cookie 授权覆盖清单所在目录下的全部分片
	cookies, err := h.signer.SignCookies(path.Dir(course.AssetPath), grantTTL)
	if err != nil {
		h.logger.Error("签发 Cookie 授权失败", zap.String("course_id", courseID), zap.Error(err))
		response.Error(c, response.CodeServerError)
		return
	}

	response.Success(c, ManifestResponse{
		ManifestURL:   manifestURL,
		SignedCookies: cookies,
		ExpiresIn:     int(grantTTL.Seconds()),
		Asset: AssetMetadata{
			CourseID:        course.ID,
			Title:           course.Title,
			DurationSeconds: course.DurationSeconds,
		},
	})
}

// RevokeSession 撤销播放会话
// DELETE /api/v1/playback/session?session_id=...
// 幂等：无论会话是否存在，认证通过即返回成功
func (h *PlaybackHandler) RevokeSession(c *gin.Context) {
	userID := c.GetString("user_id")

	sessionID := c.Query("session_id")
	if sessionID == "" {
		response.ErrorWithMsg(c, response.CodeMissingParam, "缺少会话 ID")
		return
	}

	if err := h.sessionService.Revoke(c.Request.Context(), sessionID, userID); err != nil {
		h.logger.Error("撤销会话失败", zap.String("session_id", sessionID), zap.Error(err))
		response.Error(c, response.CodeServerError)
		return
	}

	response.Success(c, gin.H{"message": "会话已撤销"})
}

// ListSessions 列出当前用户的活跃会话
// GET /api/v1/playback/sessions
// 供客户端实现"下线其他设备"
func (h *PlaybackHandler) ListSessions(c *gin.Context) {
	userID := c.GetString("user_id")

	sessions, err := h.sessionService.ListActive(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("查询活跃会话失败", zap.String("user_id", userID), zap.Error(err))
		response.Error(c, response.CodeServerError)
		return
	}

	items := make([]gin.H, 0, len(sessions))
	for _, s := range sessions {
		items = append(items, gin.H{
			"session_id":     s.ID,
			"course_id":      s.CourseID,
			"started_at":     s.StartedAt,
			"last_active_at": s.LastActiveAt,
		})
	}

	response.Success(c, gin.H{
		"sessions":               items,
		"max_concurrent_streams": h.sessionService.Ceiling(),
	})
}

// bearerToken 提取 Bearer 令牌
func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}
