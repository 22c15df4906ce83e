package gormrepo

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/taoyao-code/mlab-sync/internal/storage/models"
	"github.com/taoyao-code/mlab-sync/internal/transmitter"
)

// ErrNotFound 运行记录不存在
var ErrNotFound = errors.New("run not found")

// RunArchive 基于 GORM 的运行归档。
// 使用 isTx 标记区分事务上下文，避免嵌套事务重复 Begin/Commit。
type RunArchive struct {
	db     *gorm.DB
	isTx   bool
	logger *zap.Logger
}

// New 返回使用给定 *gorm.DB 的归档实例
func New(db *gorm.DB, logger *zap.Logger) *RunArchive {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunArchive{db: db, logger: logger}
}

// AutoMigrate 建表
func (r *RunArchive) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&models.RunRecord{}, &models.TargetRecord{})
}

// WithTx 复用现有事务或开启新事务执行 fn
func (r *RunArchive) WithTx(ctx context.Context, fn func(*RunArchive) error) error {
	if r.isTx {
		return fn(r)
	}

	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}

	child := &RunArchive{db: tx, isTx: true, logger: r.logger}
	if err := fn(child); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit().Error
}

// ToRecord 报告转换为表记录
func ToRecord(rep transmitter.RunReport) models.RunRecord {
	rec := models.RunRecord{
		ID:        rep.ID,
		Token:     int64(rep.Token),
		StartedAt: rep.StartedAt,
		SettledAt: rep.SettledAt,
	}
	for _, t := range rep.Targets {
		tr := models.TargetRecord{
			RunID:        rep.ID,
			TargetID:     int16(t.TargetID),
			Outcome:      string(t.Outcome),
			DelayMs:      int64(t.DelayMs),
			PlayMs:       int64(t.PlayMs),
			RTTUs:        int64(t.RTTUs),
			ProcessingUs: int64(t.ProcessingUs),
		}
		if t.Reason != "" {
			reason := t.Reason
			tr.Reason = &reason
		}
		if t.Outcome == transmitter.OutcomeSucceeded {
			rec.Succeeded++
		} else {
			rec.Failed++
		}
		rec.Targets = append(rec.Targets, tr)
	}
	return rec
}

// FromRecord 表记录还原为报告
func FromRecord(rec models.RunRecord) transmitter.RunReport {
	rep := transmitter.RunReport{
		ID:        rec.ID,
		Token:     uint32(rec.Token),
		StartedAt: rec.StartedAt,
		SettledAt: rec.SettledAt,
	}
	for _, t := range rec.Targets {
		out := transmitter.TargetOutcome{
			TargetID:     uint8(t.TargetID),
			Outcome:      transmitter.Outcome(t.Outcome),
			DelayMs:      uint32(t.DelayMs),
			PlayMs:       uint32(t.PlayMs),
			RTTUs:        uint32(t.RTTUs),
			ProcessingUs: uint32(t.ProcessingUs),
		}
		if t.Reason != nil {
			out.Reason = *t.Reason
		}
		rep.Targets = append(rep.Targets, out)
	}
	return rep
}

// Save 写入运行及其目标结果；重复写入同一 ID 时忽略
func (r *RunArchive) Save(ctx context.Context, rep transmitter.RunReport) error {
	rec := ToRecord(rep)
	targets := rec.Targets
	rec.Targets = nil
	return r.WithTx(ctx, func(tx *RunArchive) error {
		res := tx.db.WithContext(ctx).
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
			Create(&rec)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 || len(targets) == 0 {
			return nil
		}
		return tx.db.WithContext(ctx).Create(&targets).Error
	})
}

// Get 按 ID 查询
func (r *RunArchive) Get(ctx context.Context, id string) (transmitter.RunReport, error) {
	var rec models.RunRecord
	err := r.db.WithContext(ctx).
		Preload("Targets", func(db *gorm.DB) *gorm.DB { return db.Order("target_id") }).
		Where("id = ?", id).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return transmitter.RunReport{}, ErrNotFound
	}
	if err != nil {
		return transmitter.RunReport{}, err
	}
	return FromRecord(rec), nil
}

// Recent 按结算时间倒序
func (r *RunArchive) Recent(ctx context.Context, limit int) ([]transmitter.RunReport, error) {
	var recs []models.RunRecord
	q := r.db.WithContext(ctx).
		Preload("Targets", func(db *gorm.DB) *gorm.DB { return db.Order("target_id") }).
		Order("settled_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]transmitter.RunReport, 0, len(recs))
	for _, rec := range recs {
		out = append(out, FromRecord(rec))
	}
	return out, nil
}

// OnRunSettled 实现 transmitter.Observer
func (r *RunArchive) OnRunSettled(rep transmitter.RunReport) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := r.Save(ctx, rep); err != nil {
		r.logger.Error("archive run failed", zap.String("run_id", rep.ID), zap.Error(err))
	}
}
