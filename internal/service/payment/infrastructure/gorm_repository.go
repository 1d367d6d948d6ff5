// internal/service/payment/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"
	"time"

	"bazaar/internal/service/payment/domain"

	pkgerrors "github.com/pkg/errors"
	"gorm.io/gorm"
)

// SagaInstanceModel 对应数据库中的 saga_instance 表
type SagaInstanceModel struct {
	SagaID        string        `gorm:"primaryKey;size:64;column:saga_id"`
	OrderID       string        `gorm:"index;size:64"`
	UserID        string        `gorm:"size:64"`
	Status        domain.Status `gorm:"index;size:16"`
	FailedStep    string        `gorm:"size:64"`
	FailureReason string        `gorm:"type:text"`
	CreatedAt     time.Time
	UpdatedAt     time.Time

	Steps []SagaStepModel `gorm:"foreignKey:SagaID;references:SagaID"`
}

// TableName 指定 GORM 应该使用的表名
func (SagaInstanceModel) TableName() string {
	return "saga_instance"
}

// SagaStepModel 是只追加的步骤日志，seq 保证回放顺序。
type SagaStepModel struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	SagaID    string `gorm:"index;size:64;column:saga_id"`
	Seq       int    `gorm:"not null"`
	StepName  string `gorm:"size:64"`
	CreatedAt time.Time
}

// TableName 指定 GORM 应该使用的表名
func (SagaStepModel) TableName() string {
	return "saga_step"
}

// GormSagaRepository 是 SagaRepository 的 GORM 实现
type GormSagaRepository struct {
	db *gorm.DB
}

func NewGormSagaRepository(db *gorm.DB) *GormSagaRepository {
	return &GormSagaRepository{db: db}
}

func (r *GormSagaRepository) Create(ctx context.Context, instance *domain.Instance) error {
	model := SagaInstanceModel{
		SagaID:  instance.SagaID,
		OrderID: instance.OrderID,
		UserID:  instance.UserID,
		Status:  instance.Status,
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return pkgerrors.Wrap(err, "failed to create saga instance")
	}
	return nil
}

func (r *GormSagaRepository) Get(ctx context.Context, sagaID string) (*domain.Instance, error) {
	var model SagaInstanceModel
	err := r.db.WithContext(ctx).
		Preload("Steps", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") }).
		First(&model, "saga_id = ?", sagaID).Error
	if err != nil {
		if pkgerrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrSagaNotFound
		}
		return nil, pkgerrors.Wrap(err, "failed to query saga instance")
	}
	return toInstanceDomain(&model), nil
}

// AppendStep 在一个事务里追加日志并顺延 seq。
func (r *GormSagaRepository) AppendStep(ctx context.Context, sagaID, step string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxSeq int
		if err := tx.Model(&SagaStepModel{}).
			Where("saga_id = ?", sagaID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&maxSeq).Error; err != nil {
			return pkgerrors.Wrap(err, "failed to read saga step sequence")
		}
		record := SagaStepModel{SagaID: sagaID, Seq: maxSeq + 1, StepName: step}
		if err := tx.Create(&record).Error; err != nil {
			return pkgerrors.Wrap(err, "failed to append saga step")
		}
		return nil
	})
}

func (r *GormSagaRepository) UpdateStatus(ctx context.Context, sagaID string, status domain.Status, failedStep, reason string) error {
	err := r.db.WithContext(ctx).Model(&SagaInstanceModel{}).
		Where("saga_id = ?", sagaID).
		Updates(map[string]interface{}{
			"status":         status,
			"failed_step":    failedStep,
			"failure_reason": reason,
		}).Error
	if err != nil {
		return pkgerrors.Wrap(err, "failed to update saga status")
	}
	return nil
}

func (r *GormSagaRepository) FindByStatus(ctx context.Context, status domain.Status, limit int) ([]*domain.Instance, error) {
	var models []SagaInstanceModel
	err := r.db.WithContext(ctx).
		Preload("Steps", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") }).
		Where("status = ?", status).
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to query saga instances by status")
	}
	out := make([]*domain.Instance, len(models))
	for i := range models {
		out[i] = toInstanceDomain(&models[i])
	}
	return out, nil
}

func toInstanceDomain(m *SagaInstanceModel) *domain.Instance {
	instance := &domain.Instance{
		SagaID:        m.SagaID,
		OrderID:       m.OrderID,
		UserID:        m.UserID,
		Status:        m.Status,
		FailedStep:    m.FailedStep,
		FailureReason: m.FailureReason,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
	for _, s := range m.Steps {
		instance.CompletedSteps = append(instance.CompletedSteps, s.StepName)
	}
	return instance
}
