package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"personagen/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects to the configured database.
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var (
		db  *sql.DB
		err error
	)

	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open("sqlite3", dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
			dbCfg.Username,
			dbCfg.Password,
			dbCfg.Host,
			dbCfg.Port,
			dbCfg.DBName,
			dbCfg.Params,
		)
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", dbType)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate ensures the required tables are present.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS personalities (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				name TEXT NOT NULL UNIQUE,
				provider TEXT NOT NULL,
				text_model TEXT NOT NULL,
				vision_model TEXT,
				config_json TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS channel_messages (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				channel_id TEXT NOT NULL,
				message_id TEXT NOT NULL,
				author_id TEXT NOT NULL,
				author_name TEXT,
				role TEXT NOT NULL,
				content TEXT NOT NULL,
				tokens INTEGER NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL,
				UNIQUE(channel_id, message_id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_channel_messages_channel ON channel_messages(channel_id, created_at)`,
			`CREATE TABLE IF NOT EXISTS memories (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				personality_id INTEGER NOT NULL,
				user_id TEXT NOT NULL,
				channel_id TEXT,
				content TEXT NOT NULL,
				embedding BLOB,
				created_at DATETIME NOT NULL,
				FOREIGN KEY(personality_id) REFERENCES personalities(id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_memories_persona_user ON memories(personality_id, user_id)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS personalities (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				name VARCHAR(255) NOT NULL UNIQUE,
				provider VARCHAR(100) NOT NULL,
				text_model VARCHAR(255) NOT NULL,
				vision_model VARCHAR(255),
				config_json MEDIUMTEXT NOT NULL,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				PRIMARY KEY (id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS channel_messages (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				channel_id VARCHAR(64) NOT NULL,
				message_id VARCHAR(64) NOT NULL,
				author_id VARCHAR(64) NOT NULL,
				author_name VARCHAR(255),
				role VARCHAR(50) NOT NULL,
				content MEDIUMTEXT NOT NULL,
				tokens INT NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL,
				PRIMARY KEY (id),
				UNIQUE KEY uniq_channel_message (channel_id, message_id),
				INDEX idx_channel_messages_channel (channel_id, created_at)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS memories (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				personality_id BIGINT UNSIGNED NOT NULL,
				user_id VARCHAR(64) NOT NULL,
				channel_id VARCHAR(64),
				content MEDIUMTEXT NOT NULL,
				embedding BLOB,
				created_at DATETIME NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_memories_persona_user (personality_id, user_id),
				CONSTRAINT fk_memories_personality FOREIGN KEY (personality_id) REFERENCES personalities(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}
