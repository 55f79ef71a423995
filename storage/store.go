// Package storage 提供块的持久化存储，基于 GORM 支持 sqlite 与 postgres。
// 向量存储负责检索，这里保存块的权威副本用于重建索引和审计。
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/davidgendel/chatbot-retrieval/config"
)

// ErrChunkNotFound 块不存在
var ErrChunkNotFound = errors.New("storage: chunk not found")

// ChunkRecord 块的持久化模型
type ChunkRecord struct {
	ID              string    `gorm:"primaryKey;size:128"`
	DocumentID      string    `gorm:"index;size:128;not null"`
	ChunkIndex      int       `gorm:"not null"`
	Content         string    `gorm:"type:text;not null"`
	Heading         string    `gorm:"size:512"`
	ChunkType       string    `gorm:"size:32;not null"`
	ImportanceScore float64   `gorm:"not null"`
	TokenCount      int       `gorm:"not null"`
	CreatedAt       time.Time `gorm:"autoCreateTime"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime"`
}

// TableName 指定表名
func (ChunkRecord) TableName() string {
	return "chunks"
}

// ChunkStore 块存储
type ChunkStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open 按配置打开数据库并迁移表结构
func Open(cfg config.DatabaseConfig, logger *zap.Logger) (*ChunkStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite", "":
		dialector = sqlite.Open(cfg.Name)
	case "postgres":
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode)
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("access underlying sql.DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.AutoMigrate(&ChunkRecord{}); err != nil {
		return nil, fmt.Errorf("migrate chunk table: %w", err)
	}

	logger.Info("chunk store initialized", zap.String("driver", cfg.Driver))
	return &ChunkStore{
		db:     db,
		logger: logger.With(zap.String("component", "chunk_store")),
	}, nil
}

// SaveBatch 批量写入块，主键冲突时整条覆盖
func (s *ChunkStore) SaveBatch(ctx context.Context, records []ChunkRecord) error {
	if len(records) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Save(&records).Error
}

// Get 按 ID 读取单个块
func (s *ChunkStore) Get(ctx context.Context, id string) (*ChunkRecord, error) {
	var record ChunkRecord
	err := s.db.WithContext(ctx).First(&record, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrChunkNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ListByDocument 按文档列出全部块，按块序号升序
func (s *ChunkStore) ListByDocument(ctx context.Context, documentID string) ([]ChunkRecord, error) {
	var records []ChunkRecord
	err := s.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("chunk_index ASC").
		Find(&records).Error
	return records, err
}

// DeleteByDocument 删除文档的全部块，返回删除条数
func (s *ChunkStore) DeleteByDocument(ctx context.Context, documentID string) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Delete(&ChunkRecord{})
	return result.RowsAffected, result.Error
}

// Count 块总数
func (s *ChunkStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&ChunkRecord{}).Count(&n).Error
	return n, err
}

// Close 关闭底层连接
func (s *ChunkStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
