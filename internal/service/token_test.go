package service

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer   = "yunketang-playback"
	testAudience = "playback"
	testUA       = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120.0"
)

func newTestTokenService(t *testing.T) (PlaybackTokenService, *KeySet) {
	keys, err := DeriveKeys("test-master-secret")
	require.NoError(t, err)

	svc, err := NewPlaybackTokenService(&PlaybackTokenConfig{
		SigningKey: keys.TokenKey,
		Issuer:     testIssuer,
		Audience:   testAudience,
		TokenTTL:   90 * time.Second,
	})
	require.NoError(t, err)
	return svc, keys
}

func TestDeriveKeys(t *testing.T) {
	keys, err := DeriveKeys("secret-a")
	require.NoError(t, err)
	assert.Len(t, keys.TokenKey, 32)
	assert.Len(t, keys.IPSalt, 32)

	// 不同用途的派生密钥必须不同
	assert.NotEqual(t, keys.TokenKey, keys.IPSalt)

	// 派生是确定性的
	again, err := DeriveKeys("secret-a")
	require.NoError(t, err)
	assert.Equal(t, keys.TokenKey, again.TokenKey)

	// 不同主密钥派生不同密钥
	other, err := DeriveKeys("secret-b")
	require.NoError(t, err)
	assert.NotEqual(t, keys.TokenKey, other.TokenKey)
}

func TestDeriveKeys_EmptySecret(t *testing.T) {
	_, err := DeriveKeys("")
	assert.ErrorIs(t, err, ErrMasterSecretEmpty)
}

func TestNewPlaybackTokenService_MissingKey(t *testing.T) {
	_, err := NewPlaybackTokenService(&PlaybackTokenConfig{
		Issuer:   testIssuer,
		Audience: testAudience,
	})
	assert.ErrorIs(t, err, ErrMasterSecretEmpty)
}

func TestPlaybackToken_MintVerifyRoundTrip(t *testing.T) {
	svc, _ := newTestTokenService(t)
	ctx := context.Background()

	token, err := svc.Mint(ctx, "user-1", "course-1", "session-1", testUA, 90*time.Second)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.Verify(ctx, token, testUA)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "course-1", claims.CourseID)
	assert.Equal(t, "session-1", claims.SessionID)
	assert.Equal(t, testIssuer, claims.Issuer)
}

func TestPlaybackToken_MintParamEmpty(t *testing.T) {
	svc, _ := newTestTokenService(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		userID    string
		courseID  string
		sessionID string
	}{
		{"缺少用户", "", "course-1", "session-1"},
		{"缺少课程", "user-1", "", "session-1"},
		{"缺少会话", "user-1", "course-1", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Mint(ctx, tt.userID, tt.courseID, tt.sessionID, testUA, 0)
			assert.ErrorIs(t, err, ErrMintParamEmpty)
		})
	}
}

func TestPlaybackToken_ClientMismatch(t *testing.T) {
	svc, _ := newTestTokenService(t)
	ctx := context.Background()

	token, err := svc.Mint(ctx, "user-1", "course-1", "session-1", testUA, 0)
	require.NoError(t, err)

	// 不同 User-Agent 必须验证失败
	_, err = svc.Verify(ctx, token, "curl/8.0")
	assert.ErrorIs(t, err, ErrClientMismatch)

	// 原始 User-Agent 仍然有效
	_, err = svc.Verify(ctx, token, testUA)
	assert.NoError(t, err)
}

func TestPlaybackToken_Expired(t *testing.T) {
	svc, keys := newTestTokenService(t)
	ctx := context.Background()

	// 用相同密钥直接构造一个已过期的令牌
	now := time.Now()
	claims := &PlaybackClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			Audience:  jwt.ClaimStrings{testAudience},
			Subject:   "user-1",
			IssuedAt:  jwt.NewNumericDate(now.Add(-2 * time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(-time.Minute)),
		},
		UserID:     "user-1",
		CourseID:   "course-1",
		SessionID:  "session-1",
		ClientHash: ClientBinding(testUA),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(keys.TokenKey)
	require.NoError(t, err)

	_, err = svc.Verify(ctx, token, testUA)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestPlaybackToken_Tampered(t *testing.T) {
	svc, _ := newTestTokenService(t)
	ctx := context.Background()

	token, err := svc.Mint(ctx, "user-1", "course-1", "session-1", testUA, 0)
	require.NoError(t, err)

	tampered := token[:len(token)-5] + "xxxxx"
	_, err = svc.Verify(ctx, tampered, testUA)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestPlaybackToken_IssuerMismatch(t *testing.T) {
	svc, keys := newTestTokenService(t)
	ctx := context.Background()

	// 签发者不同的令牌不可在本子系统使用
	now := time.Now()
	claims := &PlaybackClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "another-subsystem",
			Audience:  jwt.ClaimStrings{testAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
		UserID:     "user-1",
		CourseID:   "course-1",
		SessionID:  "session-1",
		ClientHash: ClientBinding(testUA),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(keys.TokenKey)
	require.NoError(t, err)

	_, err = svc.Verify(ctx, token, testUA)
	assert.ErrorIs(t, err, ErrInvalidIssuer)
}

func TestPlaybackToken_TTLClamp(t *testing.T) {
	svc, _ := newTestTokenService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		ttl  time.Duration
		want time.Duration
	}{
		{"低于下限收敛到 30s", 10 * time.Second, 30 * time.Second},
		{"高于上限收敛到 300s", time.Hour, 300 * time.Second},
		{"范围内原样生效", 120 * time.Second, 120 * time.Second},
		{"零值使用默认", 0, 90 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := svc.Mint(ctx, "user-1", "course-1", "session-1", testUA, tt.ttl)
			require.NoError(t, err)

			claims, err := svc.Verify(ctx, token, testUA)
			require.NoError(t, err)
			assert.Equal(t, tt.want, claims.ExpiresAt.Sub(claims.IssuedAt.Time))
		})
	}
}

func TestClientBinding(t *testing.T) {
	// 定长十六进制，且不包含原始 User-Agent
	binding := ClientBinding(testUA)
	assert.Len(t, binding, 16)
	assert.NotContains(t, testUA, binding)

	// 确定性
	assert.Equal(t, binding, ClientBinding(testUA))

	// 不同 User-Agent 产生不同绑定
	assert.NotEqual(t, binding, ClientBinding("curl/8.0"))
}
