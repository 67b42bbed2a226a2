package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"trekmate/pkg/config"
	"trekmate/pkg/logger"
)

// PostgreSQL 群组活动流水所在的库
type PostgreSQL struct {
	db    *gorm.DB
	sqlDB *sql.DB
}

// NewPostgreSQL 目标库不存在时先通过 postgres 库创建
func NewPostgreSQL(cfg config.PostgreSQLConfig, log logger.Logger) (*PostgreSQL, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := ensureDatabase(ctx, cfg); err != nil {
		return nil, err
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger:  NewGormLogger(log, 200*time.Millisecond),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}
	return &PostgreSQL{db: db, sqlDB: sqlDB}, nil
}

// GetDB 获取GORM实例
func (p *PostgreSQL) GetDB() *gorm.DB {
	return p.db
}

// AutoMigrate 建表或补列，不删除已有列
func (p *PostgreSQL) AutoMigrate(models ...interface{}) error {
	return p.db.AutoMigrate(models...)
}

// Close 关闭连接池
func (p *PostgreSQL) Close() error {
	return p.sqlDB.Close()
}

// adminDSN DSN 中没有 dbname 时无法切换，返回空
func adminDSN(dsn, dbName string) string {
	if dbName == "" || !strings.Contains(dsn, "dbname="+dbName) {
		return ""
	}
	return strings.Replace(dsn, "dbname="+dbName, "dbname=postgres", 1)
}

func ensureDatabase(ctx context.Context, cfg config.PostgreSQLConfig) error {
	dsn := adminDSN(cfg.DSN, cfg.DBName)
	if dsn == "" {
		return nil
	}
	admin, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL server: %w", err)
	}
	sqlDB, err := admin.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	defer sqlDB.Close()

	var exists bool
	err = admin.WithContext(ctx).
		Raw("SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = ?)", cfg.DBName).
		Scan(&exists).Error
	if err != nil {
		return fmt.Errorf("failed to check database %s: %w", cfg.DBName, err)
	}
	if exists {
		return nil
	}
	// CREATE DATABASE 不支持参数占位
	quoted := `"` + strings.ReplaceAll(cfg.DBName, `"`, `""`) + `"`
	if err := admin.WithContext(ctx).Exec("CREATE DATABASE " + quoted).Error; err != nil {
		return fmt.Errorf("failed to create database %s: %w", cfg.DBName, err)
	}
	return nil
}
