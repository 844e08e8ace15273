package db

import (
	"database/sql"
	"fmt"
	"log"

	"FeiLiu/config"
	"FeiLiu/core/auth"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
)

var DB *sql.DB

// ConnectDB establishes a connection to the database.
func ConnectDB(cfg *config.Config) error {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)

	var err error
	DB, err = sql.Open("mysql", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	if err = DB.Ping(); err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("Successfully connected to the database.")
	return nil
}

// InitDB initializes the database schema, creating tables if they don't exist,
// and seeds the initial admin user.
func InitDB() error {
	if err := createUsersTable(); err != nil {
		return err
	}
	if err := createLibrariesTable(); err != nil {
		return err
	}
	if err := createMediaItemsTable(); err != nil {
		return err
	}
	if err := seedAdminUser(); err != nil {
		return err
	}

	log.Println("Database initialization completed.")
	return nil
}

func createUsersTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		username VARCHAR(100) NOT NULL UNIQUE,
		email VARCHAR(255) NOT NULL UNIQUE,
		password_hash VARCHAR(255) NOT NULL,
		is_admin BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
	);
	`
	_, err := DB.Exec(query)
	if err != nil {
		return fmt.Errorf("failed to create users table: %w", err)
	}
	return nil
}

func createLibrariesTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS libraries (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		path VARCHAR(1024) NOT NULL,
		media_type VARCHAR(16) NOT NULL DEFAULT 'video',
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		last_scan_at TIMESTAMP NULL DEFAULT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
	);
	`
	_, err := DB.Exec(query)
	if err != nil {
		return fmt.Errorf("failed to create libraries table: %w", err)
	}
	return nil
}

func createMediaItemsTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS media_items (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		library_id BIGINT NOT NULL,
		title VARCHAR(512) NOT NULL,
		path VARCHAR(1024) NOT NULL,
		rel_path VARCHAR(1024) NOT NULL,
		size BIGINT NOT NULL DEFAULT 0,
		duration DOUBLE NOT NULL DEFAULT 0,
		video_codec VARCHAR(64),
		audio_codec VARCHAR(64),
		width INT NOT NULL DEFAULT 0,
		height INT NOT NULL DEFAULT 0,
		thumbnail_path VARCHAR(1024),
		file_modified_at TIMESTAMP NULL DEFAULT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		UNIQUE KEY uniq_library_rel_path (library_id, rel_path(255)),
		KEY idx_library_path (library_id, path(255))
	);
	`
	_, err := DB.Exec(query)
	if err != nil {
		return fmt.Errorf("failed to create media_items table: %w", err)
	}
	return nil
}

// seedAdminUser creates the initial admin account on first boot.
func seedAdminUser() error {
	var count int
	if err := DB.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return fmt.Errorf("failed to count users: %w", err)
	}
	if count > 0 {
		return nil
	}

	hash, err := auth.HashPassword("admin")
	if err != nil {
		return fmt.Errorf("failed to hash initial admin password: %w", err)
	}

	_, err = DB.Exec(
		`INSERT INTO users (username, email, password_hash, is_admin) VALUES (?, ?, ?, TRUE)`,
		"admin", "admin@localhost", hash,
	)
	if err != nil {
		return fmt.Errorf("failed to seed admin user: %w", err)
	}

	log.Println("Seeded initial admin user (username: admin). Change the password after first login.")
	return nil
}
