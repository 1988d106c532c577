package database

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 角色枚举。一个账号只能持有一个角色，对应一张角色专属 Profile 表。
const (
	RoleJobSeeker    = "job_seeker"
	RoleEmployer     = "employer"
	RoleCompanyAdmin = "company_admin"
	RoleSuperAdmin   = "super_admin"
)

// Job 生命周期状态。
const (
	JobStatusDraft  = "draft"
	JobStatusOpen   = "open"
	JobStatusClosed = "closed"
)

// Application 状态机：applied → under_review → interview → offered → hired / rejected。
const (
	ApplicationStatusApplied     = "applied"
	ApplicationStatusUnderReview = "under_review"
	ApplicationStatusInterview   = "interview"
	ApplicationStatusOffered     = "offered"
	ApplicationStatusHired       = "hired"
	ApplicationStatusRejected    = "rejected"
)

// 消息投递状态。delivered 仅表示“已交给推送层”，不代表客户端确认收到。
const (
	MessageStatusSent      = "sent"
	MessageStatusDelivered = "delivered"
	MessageStatusRead      = "read"
)

// Post 可见性。
const (
	VisibilityPublic      = "public"
	VisibilityConnections = "connections"
	VisibilityPrivate     = "private"
)

// PostReaction 类型。
const (
	ReactionLike  = "like"
	ReactionShare = "share"
	ReactionSave  = "save"
)

// User 表示系统中的账号信息。软删除账号时同事务级联软删除其角色 Profile。
type User struct {
	gorm.Model
	Email              string `gorm:"uniqueIndex;size:255"`
	PasswordHash       string `gorm:"size:255"`
	Role               string `gorm:"size:32;index"`
	MustChangePassword bool   `gorm:"default:false"`
}

// JobSeekerProfile 表示求职者资料。
// 技能/教育/经历以 JSONB 存储，结构由前端编辑器约定。
type JobSeekerProfile struct {
	gorm.Model
	UserID             uint           `gorm:"uniqueIndex"`
	User               User           `gorm:"constraint:OnDelete:CASCADE"`
	Headline           string         `gorm:"size:255"`
	Skills             datatypes.JSON `gorm:"type:jsonb"`
	Education          datatypes.JSON `gorm:"type:jsonb"`
	Experience         datatypes.JSON `gorm:"type:jsonb"`
	Preferences        datatypes.JSON `gorm:"type:jsonb"`
	ResumeKey          string         `gorm:"size:512"`
	GeneratedResumeKey string         `gorm:"size:512"`
	AvatarKey          string         `gorm:"size:512"`
	Hired              bool           `gorm:"default:false"`
}

// 雇主类型。
const (
	EmployerTypeCompany     = "company"
	EmployerTypeIndependent = "independent"
)

// EmployerProfile 表示雇主资料，可选挂靠公司。
type EmployerProfile struct {
	gorm.Model
	UserID    uint   `gorm:"uniqueIndex"`
	User      User   `gorm:"constraint:OnDelete:CASCADE"`
	RoleType  string `gorm:"size:32"`
	CompanyID *uint  `gorm:"index"`
	Title     string `gorm:"size:255"`
	AvatarKey string `gorm:"size:512"`
}

// CompanyAdminProfile 表示公司管理员资料。
type CompanyAdminProfile struct {
	gorm.Model
	UserID    uint  `gorm:"uniqueIndex"`
	User      User  `gorm:"constraint:OnDelete:CASCADE"`
	CompanyID *uint `gorm:"index"`
}

// SuperAdminProfile 表示平台超级管理员资料。
type SuperAdminProfile struct {
	gorm.Model
	UserID uint   `gorm:"uniqueIndex"`
	User   User   `gorm:"constraint:OnDelete:CASCADE"`
	Note   string `gorm:"size:255"`
}

// Company 表示公司主体。员工名册通过 EmployerProfile.CompanyID 关联。
type Company struct {
	gorm.Model
	Name        string `gorm:"uniqueIndex;size:255"`
	Description string `gorm:"type:text"`
	Website     string `gorm:"size:512"`
	LogoKey     string `gorm:"size:512"`
	AdminUserID uint   `gorm:"index"`
}

// Job 表示职位发布。
type Job struct {
	gorm.Model
	PostedByID          uint   `gorm:"index"`
	CompanyID           *uint  `gorm:"index"`
	Title               string `gorm:"size:255"`
	Description         string `gorm:"type:text"`
	Location            string `gorm:"size:255"`
	SalaryMin           int
	SalaryMax           int
	Status              string `gorm:"size:16;index;default:draft"`
	ApplicationDeadline *time.Time
}

// Application 是 (job, seeker) 申请关系的唯一事实来源。
// 复合唯一索引保证同一对最多一行；Job 侧与求职者侧的列表都是对它的索引视图，
// 因此不存在需要双向同步的镜像状态。
type Application struct {
	gorm.Model
	JobID       uint   `gorm:"uniqueIndex:idx_applications_job_seeker;index"`
	SeekerID    uint   `gorm:"uniqueIndex:idx_applications_job_seeker;index"`
	Status      string `gorm:"size:16;default:applied"`
	CoverLetter string `gorm:"type:text"`
	ATSScore    int
	ResumeKey   string `gorm:"size:512"`
}

// SavedJob 表示收藏关系，与申请状态完全正交。
type SavedJob struct {
	gorm.Model
	JobID    uint `gorm:"uniqueIndex:idx_saved_jobs_job_seeker;index"`
	SeekerID uint `gorm:"uniqueIndex:idx_saved_jobs_job_seeker;index"`
}

// PendingApplication 表示正式申请前暂存的草稿（求职信 + ATS 评分）。
// 每个 (seeker, job) 至多一份，暂存操作覆盖旧稿。
type PendingApplication struct {
	gorm.Model
	JobID       uint   `gorm:"uniqueIndex:idx_pending_applications_job_seeker;index"`
	SeekerID    uint   `gorm:"uniqueIndex:idx_pending_applications_job_seeker;index"`
	CoverLetter string `gorm:"type:text"`
	ATSScore    int
	Suggestions datatypes.JSON `gorm:"type:jsonb"`
}

// Hire 记录录用事实。没有撤销录用的操作。
type Hire struct {
	gorm.Model
	JobID      uint `gorm:"uniqueIndex:idx_hires_job_seeker;index"`
	SeekerID   uint `gorm:"uniqueIndex:idx_hires_job_seeker;index"`
	EmployerID uint `gorm:"index"`
}

// Chat 表示两人会话。参与者按 (low, high) 归一化存储，
// 复合唯一索引保证同一对用户只有一个会话。
// EncryptedKey 是会话对称密钥在服务端主密钥下的密文，永不以明文落库。
type Chat struct {
	gorm.Model
	UserLowID    uint   `gorm:"uniqueIndex:idx_chats_pair"`
	UserHighID   uint   `gorm:"uniqueIndex:idx_chats_pair"`
	EncryptedKey []byte `gorm:"type:bytea"`
}

// ChatMessage 表示会话内消息，正文只存密文。
type ChatMessage struct {
	gorm.Model
	ChatID     uint   `gorm:"index"`
	SenderID   uint   `gorm:"index"`
	Ciphertext []byte `gorm:"type:bytea"`
	Status     string `gorm:"size:16;default:sent"`
	EditedAt   *time.Time
}

// Notification 表示通知的持久化记录（先落库，再尽力推送）。
type Notification struct {
	gorm.Model
	UserID   uint   `gorm:"index"`
	Type     string `gorm:"size:64"`
	EntityID uint
	Message  string `gorm:"size:512"`
	Read     bool   `gorm:"default:false;index"`
}

// Post 表示信息流内容。
type Post struct {
	gorm.Model
	AuthorID   uint   `gorm:"index"`
	Content    string `gorm:"type:text"`
	MediaKey   string `gorm:"size:512"`
	Visibility string `gorm:"size:16;index;default:public"`
}

// PostComment 表示帖子下的评论。
type PostComment struct {
	gorm.Model
	PostID   uint   `gorm:"index"`
	AuthorID uint   `gorm:"index"`
	Content  string `gorm:"type:text"`
}

// PostReaction 用一张表承载点赞/转发/收藏三类幂等开关。
type PostReaction struct {
	gorm.Model
	PostID uint   `gorm:"uniqueIndex:idx_post_reactions_post_user_kind;index"`
	UserID uint   `gorm:"uniqueIndex:idx_post_reactions_post_user_kind"`
	Kind   string `gorm:"size:16;uniqueIndex:idx_post_reactions_post_user_kind"`
}

// PostTag 表示帖子中对用户或公司的提及。
type PostTag struct {
	gorm.Model
	PostID     uint   `gorm:"index"`
	TargetType string `gorm:"size:16"`
	TargetID   uint
}

// AllModels 返回需要迁移的全部模型，api 与 worker 以及测试共用。
func AllModels() []any {
	return []any{
		&User{},
		&JobSeekerProfile{},
		&EmployerProfile{},
		&CompanyAdminProfile{},
		&SuperAdminProfile{},
		&Company{},
		&Job{},
		&Application{},
		&SavedJob{},
		&PendingApplication{},
		&Hire{},
		&Chat{},
		&ChatMessage{},
		&Notification{},
		&Post{},
		&PostComment{},
		&PostReaction{},
		&PostTag{},
	}
}
