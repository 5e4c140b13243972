package model

import (
	"time"
)

// PlaybackSession 播放会话
// 会话 ID 为 128 位加密随机的不透明标识，由会话服务生成
type PlaybackSession struct {
	ID           string    `json:"id" gorm:"type:char(32);primaryKey"`
	UserID       string    `json:"user_id" gorm:"type:char(36);index;not null"`
	CourseID     string    `json:"course_id" gorm:"type:char(36);index;not null"`
	IsActive     bool      `json:"is_active" gorm:"default:true;index"`
	IPHash       string    `json:"-" gorm:"type:char(32)"` // 客户端 IP 的加盐单向哈希，不存原始 IP
	StartedAt    time.Time `json:"started_at" gorm:"not null"`
	LastActiveAt time.Time `json:"last_active_at" gorm:"index;not null"`
}

// TableName 表名
func (PlaybackSession) TableName() string {
	return "playback_sessions"
}

// IsActiveWithin 会话在指定活跃窗口内是否计入并发
func (s *PlaybackSession) IsActiveWithin(window time.Duration) bool {
	return s.IsActive && time.Since(s.LastActiveAt) <= window
}
