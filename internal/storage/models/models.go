package models

import (
	"time"
)

// 不使用 gorm.Model，显式声明每个字段，避免隐式 DeletedAt

// RunRecord 映射 runs 表：一次已结算的运行
type RunRecord struct {
	ID        string    `gorm:"column:id;type:uuid;primaryKey"`
	Token     int64     `gorm:"column:token;not null;index"`
	StartedAt time.Time `gorm:"column:started_at;not null"`
	SettledAt time.Time `gorm:"column:settled_at;not null;index"`
	Succeeded int32     `gorm:"column:succeeded;not null"`
	Failed    int32     `gorm:"column:failed;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`

	Targets []TargetRecord `gorm:"foreignKey:RunID;references:ID;constraint:OnDelete:CASCADE"`
}

func (RunRecord) TableName() string { return "runs" }

// TargetRecord 映射 run_targets 表（复合主键：run_id + target_id）
type TargetRecord struct {
	RunID        string  `gorm:"column:run_id;type:uuid;primaryKey"`
	TargetID     int16   `gorm:"column:target_id;primaryKey"`
	Outcome      string  `gorm:"column:outcome;type:varchar(16);not null"`
	Reason       *string `gorm:"column:reason;type:varchar(32)"`
	DelayMs      int64   `gorm:"column:delay_ms;not null"`
	PlayMs       int64   `gorm:"column:play_ms;not null"`
	RTTUs        int64   `gorm:"column:rtt_us;not null;default:0"`
	ProcessingUs int64   `gorm:"column:processing_us;not null;default:0"`
}

func (TargetRecord) TableName() string { return "run_targets" }
