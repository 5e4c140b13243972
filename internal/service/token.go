// Package service 播放令牌服务
package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// 播放令牌相关错误
// 对外统一返回"令牌无效"，内部日志区分具体失败原因
var (
	ErrInvalidToken     = errors.New("播放令牌无效")
	ErrTokenExpired     = errors.New("播放令牌已过期")
	ErrInvalidSignature = errors.New("播放令牌签名验证失败")
	ErrInvalidIssuer    = errors.New("播放令牌签发者或受众不匹配")
	ErrClientMismatch   = errors.New("播放令牌客户端绑定不匹配")
	ErrMintParamEmpty   = errors.New("签发参数不完整")
)

// 播放令牌有效期边界
const (
	MinTokenTTL     = 30 * time.Second
	MaxTokenTTL     = 300 * time.Second
	DefaultTokenTTL = 90 * time.Second
)

// clientBindingLen 客户端绑定哈希的十六进制长度（64 位）
// 足以绑定客户端特征，同时不在令牌中存放原始 User-Agent
const clientBindingLen = 16

// PlaybackClaims 播放令牌声明
type PlaybackClaims struct {
	jwt.RegisteredClaims
	UserID     string `json:"uid"`
	CourseID   string `json:"cid"`
	SessionID  string `json:"sid"`
	ClientHash string `json:"cbh"` // User-Agent 的截断单向哈希
}

// PlaybackTokenService 播放令牌服务接口
type PlaybackTokenService interface {
	// Mint 签发短时效、绑定客户端的播放令牌
	Mint(ctx context.Context, userID, courseID, sessionID, userAgent string, ttl time.Duration) (string, error)
	// Verify 验证令牌并校验客户端绑定
	Verify(ctx context.Context, tokenString, userAgent string) (*PlaybackClaims, error)
	// TTL 当前配置的令牌有效期
	TTL() time.Duration
}

// PlaybackTokenConfig 播放令牌服务配置
type PlaybackTokenConfig struct {
	SigningKey []byte
	Issuer     string
	Audience   string
	TokenTTL   time.Duration
}

type playbackTokenService struct {
	signingKey []byte
	issuer     string
	audience   string
	tokenTTL   time.Duration
}

// NewPlaybackTokenService 创建播放令牌服务
// 签名密钥缺失属于启动期致命错误，不允许退化为无签名令牌
func NewPlaybackTokenService(cfg *PlaybackTokenConfig) (PlaybackTokenService, error) {
	if len(cfg.SigningKey) == 0 {
		return nil, ErrMasterSecretEmpty
	}
	ttl := clampTTL(cfg.TokenTTL)
	return &playbackTokenService{
		signingKey: cfg.SigningKey,
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		tokenTTL:   ttl,
	}, nil
}

// Mint 签发播放令牌
func (s *playbackTokenService) Mint(ctx context.Context, userID, courseID, sessionID, userAgent string, ttl time.Duration) (string, error) {
	if userID == "" || courseID == "" || sessionID == "" {
		return "", ErrMintParamEmpty
	}
	if ttl == 0 {
		ttl = s.tokenTTL
	}
	ttl = clampTTL(ttl)

	now := time.Now()
	claims := &PlaybackClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID:     userID,
		CourseID:   courseID,
		SessionID:  sessionID,
		ClientHash: ClientBinding(userAgent),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.signingKey)
}

// Verify 验证播放令牌
// 签名、有效期、签发者/受众、客户端绑定全部通过才视为有效
func (s *playbackTokenService) Verify(ctx context.Context, tokenString, userAgent string) (*PlaybackClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &PlaybackClaims{}, func(token *jwt.Token) (interface{}, error) {
		// 只接受 HMAC 签名算法
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidSignature
		}
		return s.signingKey, nil
	})

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrInvalidSignature
		default:
			return nil, ErrInvalidToken
		}
	}

	claims, ok := token.Claims.(*PlaybackClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	// 验证签发者与受众（域隔离，防止跨子系统重放）
	if claims.Issuer != s.issuer {
		return nil, ErrInvalidIssuer
	}
	if !containsAudience(claims.Audience, s.audience) {
		return nil, ErrInvalidIssuer
	}

	// 用当前请求的 User-Agent 重算绑定哈希，常数时间比较
	presented := ClientBinding(userAgent)
	if !hmac.Equal([]byte(presented), []byte(claims.ClientHash)) {
		return nil, ErrClientMismatch
	}

	return claims, nil
}

// TTL 当前配置的令牌有效期
func (s *playbackTokenService) TTL() time.Duration {
	return s.tokenTTL
}

// ClientBinding 计算 User-Agent 的截断单向哈希（定长十六进制）
func ClientBinding(userAgent string) string {
	sum := sha256.Sum256([]byte(userAgent))
	return hex.EncodeToString(sum[:])[:clientBindingLen]
}

// clampTTL 将令牌有效期收敛到允许范围
func clampTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTokenTTL
	}
	if ttl < MinTokenTTL {
		return MinTokenTTL
	}
	if ttl > MaxTokenTTL {
		return MaxTokenTTL
	}
	return ttl
}

func containsAudience(aud jwt.ClaimStrings, expected string) bool {
	for _, a := range aud {
		if a == expected {
			return true
		}
	}
	return false
}
