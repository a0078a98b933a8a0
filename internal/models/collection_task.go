package models

import (
	"time"

	"gorm.io/datatypes"
)

// CollectionTask is the persisted state machine for one bulk crawl. The
// checkpoint column is the only state needed to resume after the executing
// process is interrupted between pages.
type CollectionTask struct {
	ID         uint64         `gorm:"primaryKey;autoIncrement"`
	Type       string         `gorm:"type:varchar(20);not null;index;comment:任务类型 full|incremental|category|source|shorts"`
	Status     string         `gorm:"type:varchar(20);not null;index;default:'pending';comment:任务状态"`
	Config     datatypes.JSON `gorm:"type:jsonb;comment:任务配置JSON"`
	Checkpoint datatypes.JSON `gorm:"type:jsonb;comment:断点JSON"`

	CurrentSourceID *uint64 `gorm:"comment:当前源ID"`
	CurrentPage     int     `gorm:"not null;default:0;comment:当前页"`
	TotalPages      int     `gorm:"not null;default:0;comment:总页数"`
	ProcessedCount  int     `gorm:"not null;default:0;comment:已处理条数"`
	NewCount        int     `gorm:"not null;default:0;comment:新增条数"`
	UpdateCount     int     `gorm:"not null;default:0;comment:更新条数"`
	SkipCount       int     `gorm:"not null;default:0;comment:跳过条数"`
	ErrorCount      int     `gorm:"not null;default:0;comment:错误条数"`
	LastError       *string `gorm:"type:text;comment:最近错误"`

	CreatedAt   time.Time  `gorm:"type:timestamptz;autoCreateTime"`
	StartedAt   *time.Time `gorm:"type:timestamptz;comment:开始时间"`
	PausedAt    *time.Time `gorm:"type:timestamptz;comment:暂停时间"`
	CompletedAt *time.Time `gorm:"type:timestamptz;comment:结束时间"`
}

func (CollectionTask) TableName() string {
	return "collection_tasks"
}

const (
	TaskPending   = "pending"
	TaskRunning   = "running"
	TaskPaused    = "paused"
	TaskCancelled = "cancelled"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
)

const (
	TaskTypeFull        = "full"
	TaskTypeIncremental = "incremental"
	TaskTypeCategory    = "category"
	TaskTypeSource      = "source"
	TaskTypeShorts      = "shorts"
)

// IsTerminal reports whether a status permits no further transitions.
func IsTerminal(status string) bool {
	switch status {
	case TaskCompleted, TaskCancelled, TaskFailed:
		return true
	}
	return false
}
