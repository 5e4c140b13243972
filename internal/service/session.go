// Package service 播放会话服务
package service

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/yunketang/playback-backend/internal/model"
	"github.com/yunketang/playback-backend/internal/repository"
)

var (
	// ErrTooManyStreams 并发播放数已达上限
	ErrTooManyStreams = errors.New("并发播放数已达上限")
)

// PlaybackSessionService 播放会话服务接口
type PlaybackSessionService interface {
	// Admit 并发准入：计数未达上限时创建（或复用）会话，否则返回 ErrTooManyStreams
	Admit(ctx context.Context, userID, courseID, clientIP string) (*model.PlaybackSession, error)
	// CountActive 统计活跃窗口内的会话数
	CountActive(ctx context.Context, userID string) (int64, error)
	// Touch 刷新最后活跃时间；会话不存在时静默成功
	Touch(ctx context.Context, sessionID, userID string) error
	// Revoke 撤销会话，幂等
	Revoke(ctx context.Context, sessionID, userID string) error
	// ListActive 列出用户的活跃会话
	ListActive(ctx context.Context, userID string) ([]*model.PlaybackSession, error)
	// Cleanup 删除不活跃或超过保留期的会话，返回删除条数
	Cleanup(ctx context.Context) (int64, error)
	// Ceiling 当前并发上限
	Ceiling() int
}

// PlaybackSessionConfig 播放会话服务配置
type PlaybackSessionConfig struct {
	Ceiling        int           // 并发上限，默认 2
	ActivityWindow time.Duration // 活跃窗口，默认 5 分钟
	Retention      time.Duration // 保留时长，默认 24 小时
	IPSalt         []byte        // IP 哈希盐
}

type playbackSessionService struct {
	repo   repository.SessionRepository
	config *PlaybackSessionConfig
}

// NewPlaybackSessionService 创建播放会话服务
func NewPlaybackSessionService(repo repository.SessionRepository, config *PlaybackSessionConfig) PlaybackSessionService {
	if config == nil {
		config = &PlaybackSessionConfig{}
	}
	if config.Ceiling == 0 {
		config.Ceiling = 2
	}
	if config.ActivityWindow == 0 {
		config.ActivityWindow = 5 * time.Minute
	}
	if config.Retention == 0 {
		config.Retention = 24 * time.Hour
	}
	return &playbackSessionService{
		repo:   repo,
		config: config,
	}
}

// Admit 并发准入
// 计数检查与会话写入由存储层在同一事务内完成
func (s *playbackSessionService) Admit(ctx context.Context, userID, courseID, clientIP string) (*model.PlaybackSession, error) {
	now := time.Now()
	session := &model.PlaybackSession{
		ID:           generateSessionID(),
		UserID:       userID,
		CourseID:     courseID,
		IsActive:     true,
		IPHash:       s.hashIP(clientIP),
		StartedAt:    now,
		LastActiveAt: now,
	}

	admitted, err := s.repo.Admit(ctx, session, s.config.Ceiling, s.config.ActivityWindow)
	if err != nil {
		if errors.Is(err, repository.ErrConcurrencyCeiling) {
			return nil, ErrTooManyStreams
		}
		return nil, fmt.Errorf("创建播放会话失败: %w", err)
	}
	return admitted, nil
}

// CountActive 统计活跃窗口内的会话数
func (s *playbackSessionService) CountActive(ctx context.Context, userID string) (int64, error) {
	return s.repo.CountActive(ctx, userID, s.config.ActivityWindow)
}

// Touch 刷新最后活跃时间
func (s *playbackSessionService) Touch(ctx context.Context, sessionID, userID string) error {
	return s.repo.Touch(ctx, sessionID, userID)
}

// Revoke 撤销会话
// 已签发的 CDN 访问授权在其自身过期前仍然有效，撤销只阻止后续签发
func (s *playbackSessionService) Revoke(ctx context.Context, sessionID, userID string) error {
	return s.repo.Revoke(ctx, sessionID, userID)
}

// ListActive 列出用户的活跃会话
func (s *playbackSessionService) ListActive(ctx context.Context, userID string) ([]*model.PlaybackSession, error) {
	return s.repo.ListActive(ctx, userID, s.config.ActivityWindow)
}

// Cleanup 删除不活跃或超过保留期的会话
func (s *playbackSessionService) Cleanup(ctx context.Context) (int64, error) {
	return s.repo.DeleteStale(ctx, s.config.Retention)
}

// Ceiling 当前并发上限
func (s *playbackSessionService) Ceiling() int {
	return s.config.Ceiling
}

// hashIP 计算客户端 IP 的加盐单向哈希，不落库原始 IP
func (s *playbackSessionService) hashIP(ip string) string {
	mac := hmac.New(sha256.New, s.config.IPSalt)
	mac.Write([]byte(ip))
	return hex.EncodeToString(mac.Sum(nil))[:32]
}

// generateSessionID 生成 128 位加密随机的不透明会话 ID
func generateSessionID() string {
	bytes := make([]byte, 16)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}
