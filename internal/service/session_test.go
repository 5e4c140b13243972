package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yunketang/playback-backend/internal/model"
	"github.com/yunketang/playback-backend/internal/repository"
)

// mockSessionRepo 内存实现的播放会话存储，语义与数据库实现一致
type mockSessionRepo struct {
	sessions map[string]*model.PlaybackSession
}

func newMockSessionRepo() *mockSessionRepo {
	return &mockSessionRepo{
		sessions: make(map[string]*model.PlaybackSession),
	}
}

func (m *mockSessionRepo) Admit(ctx context.Context, session *model.PlaybackSession, ceiling int, window time.Duration) (*model.PlaybackSession, error) {
	cutoff := time.Now().Add(-window)

	// 复用同一 (user, course) 的活跃会话
	for _, s := range m.sessions {
		if s.UserID == session.UserID && s.CourseID == session.CourseID && s.IsActive && s.LastActiveAt.After(cutoff) {
			s.LastActiveAt = time.Now()
			s.IPHash = session.IPHash
			return s, nil
		}
	}

	count := 0
	for _, s := range m.sessions {
		if s.UserID == session.UserID && s.IsActive && s.LastActiveAt.After(cutoff) {
			count++
		}
	}
	if count >= ceiling {
		return nil, repository.ErrConcurrencyCeiling
	}

	m.sessions[session.ID] = session
	return session, nil
}

func (m *mockSessionRepo) GetByID(ctx context.Context, sessionID string) (*model.PlaybackSession, error) {
	if s, ok := m.sessions[sessionID]; ok {
		return s, nil
	}
	return nil, repository.ErrSessionNotFound
}

func (m *mockSessionRepo) CountActive(ctx context.Context, userID string, window time.Duration) (int64, error) {
	cutoff := time.Now().Add(-window)
	var count int64
	for _, s := range m.sessions {
		if s.UserID == userID && s.IsActive && s.LastActiveAt.After(cutoff) {
			count++
		}
	}
	return count, nil
}

func (m *mockSessionRepo) Touch(ctx context.Context, sessionID, userID string) error {
	if s, ok := m.sessions[sessionID]; ok && s.UserID == userID {
		s.LastActiveAt = time.Now()
	}
	return nil
}

func (m *mockSessionRepo) Revoke(ctx context.Context, sessionID, userID string) error {
	if s, ok := m.sessions[sessionID]; ok && s.UserID == userID {
		s.IsActive = false
	}
	return nil
}

func (m *mockSessionRepo) ListActive(ctx context.Context, userID string, window time.Duration) ([]*model.PlaybackSession, error) {
	cutoff := time.Now().Add(-window)
	var result []*model.PlaybackSession
	for _, s := range m.sessions {
		if s.UserID == userID && s.IsActive && s.LastActiveAt.After(cutoff) {
			result = append(result, s)
		}
	}
	return result, nil
}

func (m *mockSessionRepo) DeleteStale(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	var deleted int64
	for id, s := range m.sessions {
		if !s.IsActive || s.LastActiveAt.Before(cutoff) {
			delete(m.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}

func newTestSessionService(repo repository.SessionRepository) PlaybackSessionService {
	return NewPlaybackSessionService(repo, &PlaybackSessionConfig{
		Ceiling:        2,
		ActivityWindow: 5 * time.Minute,
		Retention:      24 * time.Hour,
		IPSalt:         []byte("test-ip-salt"),
	})
}

func TestSessionService_Admit(t *testing.T) {
	repo := newMockSessionRepo()
	svc := newTestSessionService(repo)
	ctx := context.Background()

	session, err := svc.Admit(ctx, "user-1", "course-1", "192.168.1.1")
	require.NoError(t, err)
	assert.Len(t, session.ID, 32)
	assert.True(t, session.IsActive)
	assert.Equal(t, "user-1", session.UserID)

	// IP 不落库原文
	assert.NotEmpty(t, session.IPHash)
	assert.NotContains(t, session.IPHash, "192.168.1.1")
}

func TestSessionService_Admit_ReusesActiveSession(t *testing.T) {
	repo := newMockSessionRepo()
	svc := newTestSessionService(repo)
	ctx := context.Background()

	first, err := svc.Admit(ctx, "user-1", "course-1", "192.168.1.1")
	require.NoError(t, err)

	// 同一 (user, course) 再次取令牌复用会话，不新建
	second, err := svc.Admit(ctx, "user-1", "course-1", "192.168.1.1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, repo.sessions, 1)
}

func TestSessionService_Admit_CeilingReached(t *testing.T) {
	repo := newMockSessionRepo()
	svc := newTestSessionService(repo)
	ctx := context.Background()

	_, err := svc.Admit(ctx, "user-1", "course-1", "10.0.0.1")
	require.NoError(t, err)
	_, err = svc.Admit(ctx, "user-1", "course-2", "10.0.0.1")
	require.NoError(t, err)

	// 第三路并发被拒绝，且不产生新会话
	_, err = svc.Admit(ctx, "user-1", "course-3", "10.0.0.1")
	assert.ErrorIs(t, err, ErrTooManyStreams)
	assert.Len(t, repo.sessions, 2)

	// 其他用户不受影响
	_, err = svc.Admit(ctx, "user-2", "course-1", "10.0.0.2")
	assert.NoError(t, err)
}

func TestSessionService_CountActive_SlidingWindow(t *testing.T) {
	repo := newMockSessionRepo()
	svc := newTestSessionService(repo)
	ctx := context.Background()

	s1, err := svc.Admit(ctx, "user-1", "course-1", "10.0.0.1")
	require.NoError(t, err)
	_, err = svc.Admit(ctx, "user-1", "course-2", "10.0.0.1")
	require.NoError(t, err)

	count, err := svc.CountActive(ctx, "user-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	// 超出活跃窗口的会话不再计入并发，即使未显式撤销
	repo.sessions[s1.ID].LastActiveAt = time.Now().Add(-10 * time.Minute)

	count, err = svc.CountActive(ctx, "user-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	// 窗口腾出名额后可再次准入
	_, err = svc.Admit(ctx, "user-1", "course-3", "10.0.0.1")
	assert.NoError(t, err)
}

func TestSessionService_Touch(t *testing.T) {
	repo := newMockSessionRepo()
	svc := newTestSessionService(repo)
	ctx := context.Background()

	session, err := svc.Admit(ctx, "user-1", "course-1", "10.0.0.1")
	require.NoError(t, err)

	before := repo.sessions[session.ID].LastActiveAt
	time.Sleep(10 * time.Millisecond)

	err = svc.Touch(ctx, session.ID, "user-1")
	require.NoError(t, err)
	assert.True(t, repo.sessions[session.ID].LastActiveAt.After(before))

	// 会话不存在时静默成功
	err = svc.Touch(ctx, "nonexistent", "user-1")
	assert.NoError(t, err)
}

func TestSessionService_Revoke_Idempotent(t *testing.T) {
	repo := newMockSessionRepo()
	svc := newTestSessionService(repo)
	ctx := context.Background()

	session, err := svc.Admit(ctx, "user-1", "course-1", "10.0.0.1")
	require.NoError(t, err)

	err = svc.Revoke(ctx, session.ID, "user-1")
	require.NoError(t, err)
	assert.False(t, repo.sessions[session.ID].IsActive)

	// 重复撤销结果一致，不报错
	err = svc.Revoke(ctx, session.ID, "user-1")
	require.NoError(t, err)
	assert.False(t, repo.sessions[session.ID].IsActive)

	count, err := svc.CountActive(ctx, "user-1")
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)
}

func TestSessionService_ListActive(t *testing.T) {
	repo := newMockSessionRepo()
	svc := newTestSessionService(repo)
	ctx := context.Background()

	s1, err := svc.Admit(ctx, "user-1", "course-1", "10.0.0.1")
	require.NoError(t, err)
	_, err = svc.Admit(ctx, "user-1", "course-2", "10.0.0.1")
	require.NoError(t, err)

	sessions, err := svc.ListActive(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, sessions, 2)

	// 撤销后不再出现在列表中
	require.NoError(t, svc.Revoke(ctx, s1.ID, "user-1"))
	sessions, err = svc.ListActive(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestSessionService_Cleanup(t *testing.T) {
	repo := newMockSessionRepo()
	svc := newTestSessionService(repo)
	ctx := context.Background()

	s1, err := svc.Admit(ctx, "user-1", "course-1", "10.0.0.1")
	require.NoError(t, err)
	s2, err := svc.Admit(ctx, "user-1", "course-2", "10.0.0.1")
	require.NoError(t, err)
	s3, err := svc.Admit(ctx, "user-2", "course-1", "10.0.0.2")
	require.NoError(t, err)

	// s1 已撤销，s2 超过保留期，s3 正常
	require.NoError(t, svc.Revoke(ctx, s1.ID, "user-1"))
	repo.sessions[s2.ID].LastActiveAt = time.Now().Add(-25 * time.Hour)

	deleted, err := svc.Cleanup(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, deleted)
	assert.Len(t, repo.sessions, 1)
	_, ok := repo.sessions[s3.ID]
	assert.True(t, ok)
}

func TestGenerateSessionID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := generateSessionID()
		assert.Len(t, id, 32)
		assert.False(t, seen[id], "会话 ID 不应重复")
		seen[id] = true
	}
}
