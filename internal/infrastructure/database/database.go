package database

import (
	"fmt"
	"time"

	"polyfinance/internal/config"
	"polyfinance/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open 按配置的驱动打开连接池，进程启动时调用一次，退出时 Close
func Open(cfg *config.Config) (*gorm.DB, error) {
	var (
		dialector    gorm.Dialector
		maxOpenConns int
		maxIdleConns int
	)

	switch cfg.Database.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.Postgres.DSN)
		maxOpenConns, maxIdleConns = cfg.Postgres.MaxOpenConns, cfg.Postgres.MaxIdleConns
	case "mysql", "":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			cfg.MySQL.User,
			cfg.MySQL.Password,
			cfg.MySQL.Host,
			cfg.MySQL.Port,
			cfg.MySQL.Database,
		)
		dialector = mysql.Open(dsn)
		maxOpenConns, maxIdleConns = cfg.MySQL.MaxOpenConns, cfg.MySQL.MaxIdleConns
	default:
		return nil, fmt.Errorf("不支持的数据库驱动: %s", cfg.Database.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(gormLogLevel(cfg.Database.LogLevel)),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 DB 失败: %w", err)
	}

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("自动迁移表结构失败: %w", err)
	}
	return db, nil
}

// Migrate 自动迁移全部表结构
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Account{},
		&model.AccountTransaction{},
		&model.P2POrder{},
		&model.P2PTrade{},
		&model.PaymentEvent{},
		&model.WalletRequest{},
		&model.OutboxMessage{},
	)
}

// Close 释放连接池
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func gormLogLevel(level string) logger.LogLevel {
	switch level {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}
