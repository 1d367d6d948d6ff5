// internal/pkg/db/mysql.go
package db

import (
	"fmt"
	"time"

	"bazaar/internal/pkg/config"

	sqlmysql "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open 建立 MySQL 连接并返回 gorm.DB。
// 库存行锁 (SELECT ... FOR UPDATE) 依赖 InnoDB，事务隔离级别保持默认的 REPEATABLE READ。
func Open(cfg *config.Config) (*gorm.DB, error) {
	mc := sqlmysql.Config{
		User:                 cfg.MySQL.User,
		Passwd:               cfg.MySQL.Password,
		Net:                  "tcp",
		Addr:                 cfg.MySQL.Addr,
		DBName:               cfg.MySQL.Database,
		ParseTime:            true,
		Loc:                  time.UTC,
		AllowNativePasswords: true,
		Params: map[string]string{
			"charset": "utf8mb4",
		},
	}

	gdb, err := gorm.Open(mysql.Open(mc.FormatDSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mysql at %s: %w", cfg.MySQL.Addr, err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetMaxIdleConns(20)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return gdb, nil
}
