package repository

import (
	"context"
	"errors"

	"github.com/yunketang/playback-backend/internal/model"
	"gorm.io/gorm"
)

var (
	ErrCourseNotFound = errors.New("课程不存在")
)

// CourseRepository 课程存储
type CourseRepository interface {
	GetByID(ctx context.Context, id string) (*model.Course, error)
	Create(ctx context.Context, course *model.Course) error
	Update(ctx context.Context, course *model.Course) error
}

// EnrollmentRepository 报名记录存储
type EnrollmentRepository interface {
	Create(ctx context.Context, enrollment *model.Enrollment) error
	// HasApproved 用户是否有已通过的报名
	HasApproved(ctx context.Context, userID, courseID string) (bool, error)
}

type courseRepository struct {
	db *gorm.DB
}

// NewCourseRepository 创建课程存储
func NewCourseRepository(db *gorm.DB) CourseRepository {
	return &courseRepository{db: db}
}

func (r *courseRepository) GetByID(ctx context.Context, id string) (*model.Course, error) {
	var course model.Course
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&course).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCourseNotFound
		}
		return nil, err
	}
	return &course, nil
}

func (r *courseRepository) Create(ctx context.Context, course *model.Course) error {
	return r.db.WithContext(ctx).Create(course).Error
}

func (r *courseRepository) Update(ctx context.Context, course *model.Course) error {
	return r.db.WithContext(ctx).Save(course).Error
}

type enrollmentRepository struct {
	db *gorm.DB
}

// NewEnrollmentRepository 创建报名记录存储
func NewEnrollmentRepository(db *gorm.DB) EnrollmentRepository {
	return &enrollmentRepository{db: db}
}

func (r *enrollmentRepository) Create(ctx context.Context, enrollment *model.Enrollment) error {
	return r.db.WithContext(ctx).Create(enrollment).Error
}

func (r *enrollmentRepository) HasApproved(ctx context.Context, userID, courseID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Enrollment{}).
		Where("user_id = ? AND course_id = ? AND status = ?", userID, courseID, model.EnrollmentApproved).
		Count(&count).Error
	return count > 0, err
}
