// Package service 课程访问服务
package service

import (
	"context"
	"errors"

	"github.com/yunketang/playback-backend/internal/model"
	"github.com/yunketang/playback-backend/internal/repository"
)

var (
	// ErrAssetNotReady 课程视频尚未处理完成，属于可重试状态而非客户端错误
	ErrAssetNotReady = errors.New("课程视频尚未就绪")
)

// CourseService 课程访问服务接口
type CourseService interface {
	// GetByID 获取课程
	GetByID(ctx context.Context, courseID string) (*model.Course, error)
	// HasAccess 用户是否有课程播放权限（管理员直通或已通过报名）
	HasAccess(ctx context.Context, userID, courseID string, isAdmin bool) (bool, error)
	// GetPlaybackAsset 获取可播放资源；未就绪时返回课程与 ErrAssetNotReady，
	// 调用方可将处理状态透出给客户端用于轮询提示
	GetPlaybackAsset(ctx context.Context, courseID string) (*model.Course, error)
}

type courseService struct {
	courseRepo repository.CourseRepository
	enrollRepo repository.EnrollmentRepository
}

// NewCourseService 创建课程访问服务
func NewCourseService(courseRepo repository.CourseRepository, enrollRepo repository.EnrollmentRepository) CourseService {
	return &courseService{
		courseRepo: courseRepo,
		enrollRepo: enrollRepo,
	}
}

// GetByID 获取课程
func (s *courseService) GetByID(ctx context.Context, courseID string) (*model.Course, error) {
	return s.courseRepo.GetByID(ctx, courseID)
}

// HasAccess 用户是否有课程播放权限
func (s *courseService) HasAccess(ctx context.Context, userID, courseID string, isAdmin bool) (bool, error) {
	if isAdmin {
		return true, nil
	}
	return s.enrollRepo.HasApproved(ctx, userID, courseID)
}

// GetPlaybackAsset 获取可播放资源
func (s *courseService) GetPlaybackAsset(ctx context.Context, courseID string) (*model.Course, error) {
	course, err := s.courseRepo.GetByID(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if !course.IsReady() {
		return course, ErrAssetNotReady
	}
	return course, nil
}
