package model

// 课程视频处理状态
const (
	CourseStatusDraft      = "draft"      // 草稿，尚未上传视频
	CourseStatusProcessing = "processing" // 视频转码处理中
	CourseStatusPublished  = "published"  // 已发布，可播放
	CourseStatusFailed     = "failed"     // 处理失败
)

// Course 课程
// 仅包含播放授权所需的字段，完整的课程目录由商城侧维护
type Course struct {
	BaseModel
	Title           string `gorm:"type:varchar(255);not null" json:"title"`
	Status          string `gorm:"type:varchar(20);default:draft;index" json:"status"`
	AssetPath       string `gorm:"type:varchar(500)" json:"asset_path"` // HLS 主清单在受保护前缀下的对象路径
	DurationSeconds int    `gorm:"default:0" json:"duration_seconds"`
}

// TableName 表名
func (Course) TableName() string {
	return "courses"
}

// IsReady 视频是否已就绪可播放
func (c *Course) IsReady() bool {
	return c.Status == CourseStatusPublished && c.AssetPath != ""
}

// 报名状态
const (
	EnrollmentPending  = "pending"  // 待审核
	EnrollmentApproved = "approved" // 已通过，可播放
	EnrollmentRevoked  = "revoked"  // 已撤销
)

// Enrollment 课程报名记录
type Enrollment struct {
	BaseModel
	UserID   string `gorm:"type:char(36);index:idx_enroll_user_course;not null" json:"user_id"`
	CourseID string `gorm:"type:char(36);index:idx_enroll_user_course;not null" json:"course_id"`
	Status   string `gorm:"type:varchar(20);default:pending" json:"status"`
}

// TableName 表名
func (Enrollment) TableName() string {
	return "enrollments"
}
