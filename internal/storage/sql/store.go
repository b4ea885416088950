// Package sql 提供基于 GORM 的数据库存储实现（支持 MySQL 与 PostgreSQL）。
package sql

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/lib/pq"              // PostgreSQL driver
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"fademail/backend/internal/domain"
)

// Store SQL 数据库存储实现。
type Store struct {
	db         *sql.DB
	gormDB     *gorm.DB
	driverName string // "mysql" or "postgres"
}

// NewStore 创建 SQL 数据库存储。
func NewStore(
	driverName string,
	dsn string,
	maxOpenConns int,
	maxIdleConns int,
	connMaxLifetime time.Duration,
) (*Store, error) {
	if driverName != "mysql" && driverName != "postgres" {
		return nil, fmt.Errorf("unsupported database driver: %s (supported: mysql, postgres)", driverName)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 设置连接池参数
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	gormConfig := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true, // 唯一索引冲突翻译为 gorm.ErrDuplicatedKey
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	var gormDB *gorm.DB
	if driverName == "mysql" {
		gormDB, err = gorm.Open(mysql.New(mysql.Config{Conn: db}), gormConfig)
	} else {
		gormDB, err = gorm.Open(postgres.New(postgres.Config{Conn: db}), gormConfig)
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize GORM: %w", err)
	}

	store := &Store{
		db:         db,
		gormDB:     gormDB,
		driverName: driverName,
	}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate 执行数据库迁移（使用 GORM AutoMigrate）。
func (s *Store) migrate() error {
	return s.gormDB.AutoMigrate(
		&domain.Mailbox{},
		&domain.Message{},
		&domain.Session{},
	)
}

// SaveMailbox 插入邮箱记录。
//
// 唯一索引冲突（并发分配撞到同一地址）返回 ErrAddressConflict，
// 分配器把它当作普通碰撞重试。
func (s *Store) SaveMailbox(mailbox *domain.Mailbox) error {
	if err := s.gormDB.Create(mailbox).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrAddressConflict
		}
		return fmt.Errorf("save mailbox: %w", err)
	}
	return nil
}

// GetMailbox 根据 ID 获取邮箱。
func (s *Store) GetMailbox(id string) (*domain.Mailbox, error) {
	var mailbox domain.Mailbox
	err := s.gormDB.First(&mailbox, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrMailboxNotFound
		}
		return nil, fmt.Errorf("get mailbox: %w", err)
	}
	return &mailbox, nil
}

// GetActiveMailboxByAddress 按地址查找存活邮箱。
func (s *Store) GetActiveMailboxByAddress(address string, now time.Time) (*domain.Mailbox, error) {
	var mailbox domain.Mailbox
	err := s.gormDB.
		Where("address = ? AND active = ? AND expires_at > ?", address, true, now).
		First(&mailbox).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrMailboxNotFound
		}
		return nil, fmt.Errorf("get mailbox by address: %w", err)
	}
	return &mailbox, nil
}

// GetMailboxForSession 按 (address, sessionId) 查找存活邮箱。
func (s *Store) GetMailboxForSession(address, sessionID string, now time.Time) (*domain.Mailbox, error) {
	var mailbox domain.Mailbox
	err := s.gormDB.
		Where("address = ? AND session_id = ? AND active = ? AND expires_at > ?",
			address, sessionID, true, now).
		First(&mailbox).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrMailboxNotFound
		}
		return nil, fmt.Errorf("get mailbox for session: %w", err)
	}
	return &mailbox, nil
}

// DeactivateMailbox 将邮箱标记为停用。
func (s *Store) DeactivateMailbox(id string) error {
	result := s.gormDB.Model(&domain.Mailbox{}).
		Where("id = ?", id).
		Update("active", false)
	if result.Error != nil {
		return fmt.Errorf("deactivate mailbox: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrMailboxNotFound
	}
	return nil
}

// DeleteExpiredMailboxes 删除所有过期或已停用的邮箱并级联删除其邮件。
//
// 邮件删除与邮箱删除在同一个事务内完成，保证不会留下孤儿邮件。
func (s *Store) DeleteExpiredMailboxes(now time.Time) (int, error) {
	var deleted int64
	err := s.gormDB.Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&domain.Mailbox{}).
			Where("expires_at <= ? OR active = ?", now, false).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		if err := tx.Where("mailbox_id IN ?", ids).
			Delete(&domain.Message{}).Error; err != nil {
			return err
		}

		result := tx.Where("id IN ?", ids).Delete(&domain.Mailbox{})
		if result.Error != nil {
			return result.Error
		}
		deleted = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("delete expired mailboxes: %w", err)
	}
	return int(deleted), nil
}

// CountActiveMailboxes 统计当前存活邮箱数量。
func (s *Store) CountActiveMailboxes(now time.Time) (int, error) {
	var count int64
	err := s.gormDB.Model(&domain.Mailbox{}).
		Where("active = ? AND expires_at > ?", true, now).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count active mailboxes: %w", err)
	}
	return int(count), nil
}

// SaveMessage 插入邮件，SourceMessageID 重复时返回 ErrDuplicateMessage。
func (s *Store) SaveMessage(message *domain.Message) error {
	if err := s.gormDB.Create(message).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrDuplicateMessage
		}
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

// ListMessages 返回邮箱内全部邮件，按接收时间倒序。
func (s *Store) ListMessages(mailboxID string) ([]domain.Message, error) {
	var messages []domain.Message
	err := s.gormDB.
		Where("mailbox_id = ?", mailboxID).
		Order("received_at DESC").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

// MarkMessageRead 标记邮件已读，仅当所属邮箱归该会话所有时生效。
func (s *Store) MarkMessageRead(messageID, sessionID string) error {
	err := s.gormDB.Model(&domain.Message{}).
		Where("id = ? AND mailbox_id IN (?)",
			messageID,
			s.gormDB.Model(&domain.Mailbox{}).Select("id").Where("session_id = ?", sessionID),
		).
		Update("is_read", true).Error
	if err != nil {
		return fmt.Errorf("mark message read: %w", err)
	}
	// 0 行受影响不是错误：对外契约是静默跳过
	return nil
}

// UpsertSession 创建会话或刷新其活动时间与来源 IP。
func (s *Store) UpsertSession(session *domain.Session) error {
	err := s.gormDB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_activity_at", "ip_address"}),
	}).Create(session).Error
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// GetSession 根据 ID 获取会话。
func (s *Store) GetSession(id string) (*domain.Session, error) {
	var session domain.Session
	err := s.gormDB.First(&session, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &session, nil
}

// Health 检查数据库健康状态。
func (s *Store) Health() error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	return s.db.Ping()
}

// Close 关闭数据库连接。
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
