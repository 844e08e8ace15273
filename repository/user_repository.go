package repository

import (
	"database/sql"
	"fmt"
	"time"

	"FeiLiu/db"
	"FeiLiu/model"
)

// UserRepository defines the interface for user data operations.
type UserRepository interface {
	CreateUser(user *model.User) (int64, error)
	GetUserByID(id int64) (*model.User, error)
	GetUserByUsername(username string) (*model.User, error)
}

// mysqlUserRepository implements UserRepository for MySQL.
type mysqlUserRepository struct {
	DB *sql.DB
}

// NewMySQLUserRepository creates a new instance of mysqlUserRepository.
func NewMySQLUserRepository() UserRepository {
	return &mysqlUserRepository{DB: db.DB}
}

// CreateUser adds a new user to the database.
func (r *mysqlUserRepository) CreateUser(user *model.User) (int64, error) {
	query := `INSERT INTO users (username, email, password_hash, is_admin, created_at, updated_at)
	           VALUES (?, ?, ?, ?, ?, ?)`
	stmt, err := r.DB.Prepare(query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement for CreateUser: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	res, err := stmt.Exec(user.Username, user.Email, user.PasswordHash, user.IsAdmin, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to execute CreateUser: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for CreateUser: %w", err)
	}
	return id, nil
}

// GetUserByID retrieves a user by ID. Returns (nil, nil) when absent.
func (r *mysqlUserRepository) GetUserByID(id int64) (*model.User, error) {
	query := `SELECT id, username, email, password_hash, is_admin, created_at, updated_at
	           FROM users WHERE id = ?`
	row := r.DB.QueryRow(query, id)

	user := &model.User{}
	err := row.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash,
		&user.IsAdmin, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan user by ID %d: %w", id, err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username. Returns (nil, nil) when absent.
func (r *mysqlUserRepository) GetUserByUsername(username string) (*model.User, error) {
	query := `SELECT id, username, email, password_hash, is_admin, created_at, updated_at
	           FROM users WHERE username = ?`
	row := r.DB.QueryRow(query, username)

	user := &model.User{}
	err := row.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash,
		&user.IsAdmin, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan user by username %q: %w", username, err)
	}
	return user, nil
}
