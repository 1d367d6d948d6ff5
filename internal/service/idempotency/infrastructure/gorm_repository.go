// internal/service/idempotency/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"
	"time"

	"bazaar/internal/service/idempotency/domain"

	sqlmysql "github.com/go-sql-driver/mysql"
	pkgerrors "github.com/pkg/errors"
	"gorm.io/gorm"
)

// mysqlDuplicateEntry 是 MySQL 唯一约束冲突的错误码。
const mysqlDuplicateEntry = 1062

// IdempotencyKeyModel 对应数据库中的 idempotency_key 表。
// key 列上的唯一索引是同键并发请求的串行化点。
type IdempotencyKeyModel struct {
	ID           uint   `gorm:"primaryKey"`
	Key          string `gorm:"column:idem_key;size:128;uniqueIndex"`
	RequestType  string `gorm:"size:32"`
	UserID       string `gorm:"size:64"`
	EntityID     string `gorm:"size:64"`
	Status       string `gorm:"size:16;index"`
	ResponseData []byte `gorm:"type:blob"`
	ErrorMessage string `gorm:"size:512"`
	Attempts     int    `gorm:"not null;default:1"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (IdempotencyKeyModel) TableName() string {
	return "idempotency_key"
}

func toDomainRecord(m *IdempotencyKeyModel) *domain.Record {
	return &domain.Record{
		Key:          m.Key,
		RequestType:  m.RequestType,
		UserID:       m.UserID,
		EntityID:     m.EntityID,
		Status:       domain.Status(m.Status),
		ResponseData: m.ResponseData,
		ErrorMessage: m.ErrorMessage,
		Attempts:     m.Attempts,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

// GormRepository 是 domain.Repository 的 GORM 实现。
type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) Insert(ctx context.Context, rec *domain.Record) error {
	m := IdempotencyKeyModel{
		Key:         rec.Key,
		RequestType: rec.RequestType,
		UserID:      rec.UserID,
		EntityID:    rec.EntityID,
		Status:      string(rec.Status),
		Attempts:    rec.Attempts,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
	err := r.db.WithContext(ctx).Create(&m).Error
	if err != nil {
		if isDuplicateEntry(err) {
			return domain.ErrDuplicateKey
		}
		return pkgerrors.Wrap(err, "insert idempotency record")
	}
	return nil
}

func (r *GormRepository) Get(ctx context.Context, key string) (*domain.Record, error) {
	var m IdempotencyKeyModel
	err := r.db.WithContext(ctx).Where("idem_key = ?", key).First(&m).Error
	if err != nil {
		if pkgerrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrKeyNotFound
		}
		return nil, pkgerrors.Wrap(err, "query idempotency record")
	}
	return toDomainRecord(&m), nil
}

func (r *GormRepository) Complete(ctx context.Context, key string, response []byte) (bool, error) {
	res := r.db.WithContext(ctx).Model(&IdempotencyKeyModel{}).
		Where("idem_key = ? AND status = ?", key, string(domain.StatusProcessing)).
		Updates(map[string]interface{}{
			"status":        string(domain.StatusCompleted),
			"response_data": response,
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		return false, pkgerrors.Wrap(res.Error, "complete idempotency record")
	}
	return res.RowsAffected > 0, nil
}

func (r *GormRepository) Fail(ctx context.Context, key, reason string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&IdempotencyKeyModel{}).
		Where("idem_key = ? AND status = ?", key, string(domain.StatusProcessing)).
		Updates(map[string]interface{}{
			"status":        string(domain.StatusFailed),
			"error_message": reason,
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		return false, pkgerrors.Wrap(res.Error, "fail idempotency record")
	}
	return res.RowsAffected > 0, nil
}

func (r *GormRepository) ResetForRetry(ctx context.Context, key, requestType, userID, entityID string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&IdempotencyKeyModel{}).
		Where("idem_key = ? AND status = ?", key, string(domain.StatusFailed)).
		Updates(map[string]interface{}{
			"status":        string(domain.StatusProcessing),
			"request_type":  requestType,
			"user_id":       userID,
			"entity_id":     entityID,
			"response_data": nil,
			"error_message": "",
			"attempts":      gorm.Expr("attempts + 1"),
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		return false, pkgerrors.Wrap(res.Error, "reset idempotency record")
	}
	return res.RowsAffected > 0, nil
}

func (r *GormRepository) FailZombies(ctx context.Context, cutoff time.Time, reason string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&IdempotencyKeyModel{}).
		Where("status = ? AND updated_at < ?", string(domain.StatusProcessing), cutoff).
		Updates(map[string]interface{}{
			"status":        string(domain.StatusFailed),
			"error_message": reason,
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		return 0, pkgerrors.Wrap(res.Error, "fail zombie records")
	}
	return res.RowsAffected, nil
}

func (r *GormRepository) PurgeTerminal(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status IN ? AND created_at < ?",
			[]string{string(domain.StatusCompleted), string(domain.StatusFailed)}, cutoff).
		Delete(&IdempotencyKeyModel{})
	if res.Error != nil {
		return 0, pkgerrors.Wrap(res.Error, "purge terminal records")
	}
	return res.RowsAffected, nil
}

func isDuplicateEntry(err error) bool {
	if pkgerrors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var mysqlErr *sqlmysql.MySQLError
	if pkgerrors.As(err, &mysqlErr) {
		return mysqlErr.Number == mysqlDuplicateEntry
	}
	return false
}
