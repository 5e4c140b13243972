package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response 标准响应结构
// 字段顺序：code -> msg -> data
type Response struct {
	Code int         `json:"code"` // 业务状态码，0 表示成功
	Msg  string      `json:"msg"`  // 响应消息（中文）
	Data interface{} `json:"data"` // 响应数据
}

// 业务错误码
const (
	CodeSuccess = 0 // 操作成功

	// 参数错误 10xxx
	CodeInvalidRequest = 10001 // 请求参数无效
	CodeMissingParam   = 10003 // 必填参数缺失

	// 认证与授权错误 20xxx
	CodeUnauthorized   = 20001 // 未登录或登录已失效
	CodeInvalidToken   = 20002 // 播放令牌无效：签名、过期、客户端绑定失败统一返回此码
	CodeForbidden      = 20008 // 无权访问该课程
	CodeCourseMismatch = 20009 // 播放令牌与请求课程不匹配

	// 资源不存在 40xxx
	CodeCourseNotFound  = 40001 // 课程不存在
	CodeSessionNotFound = 40002 // 播放会话不存在

	// 服务器错误 90xxx
	CodeServerError    = 90001 // 服务器内部错误
	CodeAssetNotReady  = 90002 // 课程视频处理中，稍后重试
	CodeRateLimited    = 90003 // 令牌请求过于频繁
	CodeTooManyStreams = 90004 // 并发播放数已达上限
)

// 错误码对应的消息
var codeMessages = map[int]string{
	CodeSuccess:         "操作成功",
	CodeInvalidRequest:  "请求参数无效",
	CodeMissingParam:    "必填参数缺失",
	CodeUnauthorized:    "未登录或登录已失效",
	CodeInvalidToken:    "播放令牌无效",
	CodeForbidden:       "无权访问该课程",
	CodeCourseMismatch:  "播放令牌与请求课程不匹配",
	CodeCourseNotFound:  "课程不存在",
	CodeSessionNotFound: "播放会话不存在",
	CodeServerError:     "服务器内部错误，请稍后重试",
	CodeAssetNotReady:   "课程视频处理中，请稍后重试",
	CodeRateLimited:     "请求过于频繁，请稍后重试",
	CodeTooManyStreams:  "同时播放设备数已达上限",
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code: CodeSuccess,
		Msg:  codeMessages[CodeSuccess],
		Data: data,
	})
}

// Error 错误响应
func Error(c *gin.Context, code int) {
	msg, ok := codeMessages[code]
	if !ok {
		msg = "未知错误"
	}
	c.JSON(codeToHTTPStatus(code), Response{
		Code: code,
		Msg:  msg,
		Data: nil,
	})
}

// ErrorWithMsg 错误响应（自定义消息）
func ErrorWithMsg(c *gin.Context, code int, msg string) {
	c.JSON(codeToHTTPStatus(code), Response{
		Code: code,
		Msg:  msg,
		Data: nil,
	})
}

// ErrorWithData 错误响应（携带结构化数据）
// 429/503 类响应需要给客户端足够的信息以便智能退避
func ErrorWithData(c *gin.Context, code int, data interface{}) {
	msg, ok := codeMessages[code]
	if !ok {
		msg = "未知错误"
	}
	c.JSON(codeToHTTPStatus(code), Response{
		Code: code,
		Msg:  msg,
		Data: data,
	})
}

// codeToHTTPStatus 业务错误码转 HTTP 状态码
func codeToHTTPStatus(code int) int {
	switch {
	case code == CodeSuccess:
		return http.StatusOK
	case code >= 10000 && code < 20000:
		return http.StatusBadRequest
	case code == CodeUnauthorized || code == CodeInvalidToken:
		return http.StatusUnauthorized
	case code == CodeForbidden || code == CodeCourseMismatch:
		return http.StatusForbidden
	case code >= 40000 && code < 50000:
		return http.StatusNotFound
	case code == CodeRateLimited || code == CodeTooManyStreams:
		return http.StatusTooManyRequests
	case code == CodeAssetNotReady:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
