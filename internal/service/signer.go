// Package service CDN 资源签名服务
package service

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

// 资源签名相关错误
var (
	ErrSignerKeyMissing      = errors.New("CDN 签名密钥未配置")
	ErrOutsideProtectedPath  = errors.New("资源不在受保护路径前缀下")
	ErrGrantExpired          = errors.New("资源访问授权已过期")
	ErrResourceMismatch      = errors.New("资源与授权范围不匹配")
	ErrInvalidGrantSignature = errors.New("资源访问授权签名无效")
	ErrInvalidGrantPolicy    = errors.New("资源访问授权策略无法解析")
)

// DefaultGrantTTL 签名授权默认有效期
const DefaultGrantTTL = 5 * time.Minute

// CookieGrant 签名 Cookie 三元组
// 由 HTTP 层设置到 CDN 域下，本服务只产生值
type CookieGrant struct {
	Policy    string `json:"policy"`
	Signature string `json:"signature"`
	KeyPairID string `json:"key_pair_id"`
}

// ResourceSigner CDN 资源签名服务接口
// CDN 边缘是真正的执行者，本服务负责构造边缘能够正确执行的策略
type ResourceSigner interface {
	// SignURL 对单个资源路径签发限时访问 URL
	SignURL(resourcePath string, ttl time.Duration) (string, error)
	// SignCookies 对路径前缀签发 Cookie 授权，一份策略覆盖清单下的全部分片
	SignCookies(pathPrefix string, ttl time.Duration) (*CookieGrant, error)
	// VerifyGrant 按边缘的校验逻辑验证授权：签名、有效期、资源范围
	VerifyGrant(policyEnc, sigEnc, resourceURL string) error
	// KeyPairID 签名密钥对标识
	KeyPairID() string
	// GrantTTL 配置的授权有效期
	GrantTTL() time.Duration
}

// ResourceSignerConfig 资源签名服务配置
type ResourceSignerConfig struct {
	Domain     string
	KeyPairID  string
	PrivateKey *rsa.PrivateKey
	GrantTTL   time.Duration
	// PathPrefix 受保护资源的路径前缀，非空时拒绝签发前缀之外的资源
	PathPrefix string
}

type resourceSigner struct {
	domain     string
	keyPairID  string
	privateKey *rsa.PrivateKey
	grantTTL   time.Duration
	pathPrefix string
}

// NewResourceSigner 创建资源签名服务
// 密钥或密钥对标识缺失属于启动期致命错误，不允许退化为未签名 URL
func NewResourceSigner(cfg *ResourceSignerConfig) (ResourceSigner, error) {
	if cfg.PrivateKey == nil || cfg.KeyPairID == "" {
		return nil, ErrSignerKeyMissing
	}
	ttl := cfg.GrantTTL
	if ttl <= 0 {
		ttl = DefaultGrantTTL
	}
	return &resourceSigner{
		domain:     cfg.Domain,
		keyPairID:  cfg.KeyPairID,
		privateKey: cfg.PrivateKey,
		grantTTL:   ttl,
		pathPrefix: cfg.PathPrefix,
	}, nil
}

// 策略文档，URL 签名与 Cookie 签名共用同一结构，
// 与 CDN 边缘期望的 Statement/Resource/Condition-DateLessThan 形状一致
type policyDocument struct {
	Statement []policyStatement `json:"Statement"`
}

type policyStatement struct {
	Resource  string          `json:"Resource"`
	Condition policyCondition `json:"Condition"`
}

type policyCondition struct {
	DateLessThan policyEpochTime `json:"DateLessThan"`
}

type policyEpochTime struct {
	EpochTime int64 `json:"AWS:EpochTime"`
}

// SignURL 对单个资源路径签发限时访问 URL
func (s *resourceSigner) SignURL(resourcePath string, ttl time.Duration) (string, error) {
	if err := s.checkProtectedPath(resourcePath); err != nil {
		return "", err
	}
	resourceURL := s.resourceURL(resourcePath)

	policyEnc, sigEnc, err := s.signPolicy(resourceURL, ttl)
	if err != nil {
		return "", err
	}

	u, err := url.Parse(resourceURL)
	if err != nil {
		return "", fmt.Errorf("解析资源 URL 失败: %w", err)
	}
	q := u.Query()
	q.Set("Policy", policyEnc)
	q.Set("Signature", sigEnc)
	q.Set("Key-Pair-Id", s.keyPairID)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// SignCookies 对路径前缀签发 Cookie 授权
// 资源字段为通配前缀，HLS/DASH 的数十上百个分片共用一份策略
func (s *resourceSigner) SignCookies(pathPrefix string, ttl time.Duration) (*CookieGrant, error) {
	if err := s.checkProtectedPath(pathPrefix); err != nil {
		return nil, err
	}
	resource := s.resourceURL(strings.TrimSuffix(pathPrefix, "/")) + "/*"

	policyEnc, sigEnc, err := s.signPolicy(resource, ttl)
	if err != nil {
		return nil, err
	}

	return &CookieGrant{
		Policy:    policyEnc,
		Signature: sigEnc,
		KeyPairID: s.keyPairID,
	}, nil
}

// VerifyGrant 按边缘逻辑验证授权
func (s *resourceSigner) VerifyGrant(policyEnc, sigEnc, resourceURL string) error {
	policyBytes, err := decodeGrant(policyEnc)
	if err != nil {
		return ErrInvalidGrantPolicy
	}
	sig, err := decodeGrant(sigEnc)
	if err != nil {
		return ErrInvalidGrantSignature
	}

	// 签名覆盖策略原文，先验签再解析
	digest := sha1.Sum(policyBytes)
	if err := rsa.VerifyPKCS1v15(&s.privateKey.PublicKey, crypto.SHA1, digest[:], sig); err != nil {
		return ErrInvalidGrantSignature
	}

	var doc policyDocument
	if err := json.Unmarshal(policyBytes, &doc); err != nil || len(doc.Statement) == 0 {
		return ErrInvalidGrantPolicy
	}
	stmt := doc.Statement[0]

	if time.Now().Unix() >= stmt.Condition.DateLessThan.EpochTime {
		return ErrGrantExpired
	}

	if !resourceMatches(stmt.Resource, resourceURL) {
		return ErrResourceMismatch
	}

	return nil
}

// KeyPairID 签名密钥对标识
func (s *resourceSigner) KeyPairID() string {
	return s.keyPairID
}

// GrantTTL 配置的授权有效期
func (s *resourceSigner) GrantTTL() time.Duration {
	return s.grantTTL
}

// signPolicy 构造策略、RSA-SHA1 签名并编码
func (s *resourceSigner) signPolicy(resource string, ttl time.Duration) (policyEnc, sigEnc string, err error) {
	if ttl <= 0 {
		ttl = s.grantTTL
	}
	doc := policyDocument{
		Statement: []policyStatement{{
			Resource: resource,
			Condition: policyCondition{
				DateLessThan: policyEpochTime{
					EpochTime: time.Now().Add(ttl).Unix(),
				},
			},
		}},
	}

	policyBytes, err := json.Marshal(doc)
	if err != nil {
		return "", "", fmt.Errorf("序列化策略失败: %w", err)
	}

	digest := sha1.Sum(policyBytes)
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.privateKey, crypto.SHA1, digest[:])
	if err != nil {
		return "", "", fmt.Errorf("签名策略失败: %w", err)
	}

	return encodeGrant(policyBytes), encodeGrant(sig), nil
}

// checkProtectedPath 配置了受保护前缀时，拒绝为前缀之外的路径签发授权，
// 防止错误录入的资源路径被签成合法 URL
func (s *resourceSigner) checkProtectedPath(path string) error {
	if s.pathPrefix == "" {
		return nil
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if !strings.HasPrefix(path, s.pathPrefix) {
		return ErrOutsideProtectedPath
	}
	return nil
}

func (s *resourceSigner) resourceURL(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return "https://" + s.domain + path
}

// resourceMatches 资源是否落在授权范围内：精确匹配或通配前缀匹配
func resourceMatches(granted, requested string) bool {
	if strings.HasSuffix(granted, "*") {
		return strings.HasPrefix(requested, strings.TrimSuffix(granted, "*"))
	}
	return granted == requested
}

// CDN 安全字符替换：+ → -，= → _，/ → ~，避免 URL 与 Cookie 中的保留字符
var grantEncoder = strings.NewReplacer("+", "-", "=", "_", "/", "~")
var grantDecoder = strings.NewReplacer("-", "+", "_", "=", "~", "/")

func encodeGrant(data []byte) string {
	return grantEncoder.Replace(base64.StdEncoding.EncodeToString(data))
}

func decodeGrant(enc string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(grantDecoder.Replace(enc))
}

// LoadPrivateKey 从 PEM 文件加载 RSA 私钥，支持 PKCS#1 与 PKCS#8
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取私钥文件失败: %w", err)
	}
	return ParsePrivateKeyPEM(data)
}

// ParsePrivateKeyPEM 解析 PEM 编码的 RSA 私钥
func ParsePrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("私钥不是有效的 PEM 格式")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("解析私钥失败: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("私钥不是 RSA 类型")
	}
	return key, nil
}
