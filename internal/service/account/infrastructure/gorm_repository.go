// internal/service/account/infrastructure/gorm_repository.go
package infrastructure

import (
	"context"
	"time"

	"bazaar/internal/service/account/domain"

	pkgerrors "github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AccountModel 对应数据库中的 account 表
type AccountModel struct {
	ID        int64   `gorm:"primaryKey;autoIncrement"`
	UserID    string  `gorm:"uniqueIndex;size:64"`
	Balance   float64 `gorm:"type:decimal(12,2)"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName 指定 GORM 应该使用的表名
func (AccountModel) TableName() string {
	return "account"
}

func (m *AccountModel) toDomain() *domain.Account {
	return &domain.Account{
		UserID:    m.UserID,
		Balance:   m.Balance,
		UpdatedAt: m.UpdatedAt,
	}
}

// GormAccountRepository 是 AccountRepository 的 GORM 实现
type GormAccountRepository struct {
	db *gorm.DB
}

func NewGormAccountRepository(db *gorm.DB) *GormAccountRepository {
	return &GormAccountRepository{db: db}
}

func (r *GormAccountRepository) Get(ctx context.Context, userID string) (*domain.Account, error) {
	var model AccountModel
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&model).Error
	if err != nil {
		if pkgerrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, pkgerrors.Wrap(err, "failed to query account")
	}
	return model.toDomain(), nil
}

func (r *GormAccountRepository) Create(ctx context.Context, account *domain.Account) error {
	model := AccountModel{
		UserID:  account.UserID,
		Balance: account.Balance,
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return pkgerrors.Wrap(err, "failed to create account")
	}
	return nil
}

// UpdateWithLock 在事务内用 SELECT ... FOR UPDATE 锁住账户行，
// 执行 mutate 后把余额写回。
func (r *GormAccountRepository) UpdateWithLock(ctx context.Context, userID string, mutate func(*domain.Account) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model AccountModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).
			First(&model).Error
		if err != nil {
			if pkgerrors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrAccountNotFound
			}
			return pkgerrors.Wrap(err, "failed to lock account row")
		}

		acc := model.toDomain()
		if err := mutate(acc); err != nil {
			return err
		}

		return tx.Model(&model).Updates(map[string]interface{}{
			"balance": acc.Balance,
		}).Error
	})
}
