// Package service 业务逻辑层
package service

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// ErrMasterSecretEmpty 主密钥缺失，属于启动期致命配置错误
var ErrMasterSecretEmpty = errors.New("播放主密钥未配置")

// KeySet 由主密钥派生的各用途密钥
// 不同用途使用独立的派生密钥，令牌签名密钥泄露不影响 IP 哈希，反之亦然
type KeySet struct {
	TokenKey []byte // 播放令牌 HMAC 签名密钥
	IPSalt   []byte // 客户端 IP 哈希盐
}

// DeriveKeys 从主密钥派生密钥集
func DeriveKeys(masterSecret string) (*KeySet, error) {
	if masterSecret == "" {
		return nil, ErrMasterSecretEmpty
	}

	tokenKey, err := deriveKey(masterSecret, "playback-token-sign")
	if err != nil {
		return nil, err
	}
	ipSalt, err := deriveKey(masterSecret, "playback-ip-hash")
	if err != nil {
		return nil, err
	}

	return &KeySet{TokenKey: tokenKey, IPSalt: ipSalt}, nil
}

// deriveKey HKDF-SHA256 派生 32 字节密钥，info 区分用途
func deriveKey(secret, info string) ([]byte, error) {
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(info))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("派生密钥失败: %w", err)
	}
	return key, nil
}
