package repository

import (
	"context"
	"errors"
	"time"

	"github.com/yunketang/playback-backend/internal/model"
	"gorm.io/gorm"
)

var (
	ErrSessionNotFound    = errors.New("播放会话不存在")
	ErrConcurrencyCeiling = errors.New("并发播放数已达上限")
)

// SessionRepository 播放会话存储
type SessionRepository interface {
	// Admit 准入并创建（或复用）会话：在单个事务中完成并发计数检查与写入，
	// 计数达到上限时返回 ErrConcurrencyCeiling，避免两次独立调用之间的竞态
	Admit(ctx context.Context, session *model.PlaybackSession, ceiling int, window time.Duration) (*model.PlaybackSession, error)
	GetByID(ctx context.Context, sessionID string) (*model.PlaybackSession, error)
	// CountActive 统计活跃窗口内仍在活动的会话数
	CountActive(ctx context.Context, userID string, window time.Duration) (int64, error)
	// Touch 刷新最后活跃时间；会话不存在时不视为错误
	Touch(ctx context.Context, sessionID, userID string) error
	// Revoke 将会话置为不活跃，幂等
	Revoke(ctx context.Context, sessionID, userID string) error
	ListActive(ctx context.Context, userID string, window time.Duration) ([]*model.PlaybackSession, error)
	// DeleteStale 删除不活跃或超过保留期的会话，返回删除条数
	DeleteStale(ctx context.Context, retention time.Duration) (int64, error)
}

type sessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository 创建播放会话存储
func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &sessionRepository{db: db}
}

// Admit 准入并创建会话
// 同一 (user, course) 已有活跃会话时复用该会话而不是新建，
// 播放器反复取令牌不会额外占用并发名额
func (r *sessionRepository) Admit(ctx context.Context, session *model.PlaybackSession, ceiling int, window time.Duration) (*model.PlaybackSession, error) {
	cutoff := time.Now().Add(-window)
	result := session

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 先尝试复用已有活跃会话
		var existing model.PlaybackSession
		err := tx.Where("user_id = ? AND course_id = ? AND is_active = ? AND last_active_at > ?",
			session.UserID, session.CourseID, true, cutoff).
			First(&existing).Error
		if err == nil {
			existing.LastActiveAt = time.Now()
			existing.IPHash = session.IPHash
			if err := tx.Save(&existing).Error; err != nil {
				return err
			}
			result = &existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		// 并发计数检查与插入在同一事务内完成
		var count int64
		if err := tx.Model(&model.PlaybackSession{}).
			Where("user_id = ? AND is_active = ? AND last_active_at > ?", session.UserID, true, cutoff).
			Count(&count).Error; err != nil {
			return err
		}
		if count >= int64(ceiling) {
			return ErrConcurrencyCeiling
		}

		return tx.Create(session).Error
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *sessionRepository) GetByID(ctx context.Context, sessionID string) (*model.PlaybackSession, error) {
	var session model.PlaybackSession
	err := r.db.WithContext(ctx).Where("id = ?", sessionID).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepository) CountActive(ctx context.Context, userID string, window time.Duration) (int64, error) {
	cutoff := time.Now().Add(-window)
	var count int64
	err := r.db.WithContext(ctx).Model(&model.PlaybackSession{}).
		Where("user_id = ? AND is_active = ? AND last_active_at > ?", userID, true, cutoff).
		Count(&count).Error
	return count, err
}

func (r *sessionRepository) Touch(ctx context.Context, sessionID, userID string) error {
	// 未命中任何行不算错误：客户端可能持有已登出或已清理的会话 ID
	return r.db.WithContext(ctx).Model(&model.PlaybackSession{}).
		Where("id = ? AND user_id = ?", sessionID, userID).
		Update("last_active_at", time.Now()).Error
}

func (r *sessionRepository) Revoke(ctx context.Context, sessionID, userID string) error {
	return r.db.WithContext(ctx).Model(&model.PlaybackSession{}).
		Where("id = ? AND user_id = ?", sessionID, userID).
		Update("is_active", false).Error
}

func (r *sessionRepository) ListActive(ctx context.Context, userID string, window time.Duration) ([]*model.PlaybackSession, error) {
	cutoff := time.Now().Add(-window)
	var sessions []*model.PlaybackSession
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ? AND last_active_at > ?", userID, true, cutoff).
		Order("started_at DESC").
		Find(&sessions).Error
	return sessions, err
}

func (r *sessionRepository) DeleteStale(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	result := r.db.WithContext(ctx).
		Where("is_active = ? OR last_active_at < ?", false, cutoff).
		Delete(&model.PlaybackSession{})
	return result.RowsAffected, result.Error
}
