package repository

import (
	"database/sql"
	"fmt"
	"time"

	"FeiLiu/db"
	"FeiLiu/model"
)

// LibraryRepository defines the interface for library data operations.
type LibraryRepository interface {
	CreateLibrary(library *model.Library) (int64, error)
	GetLibraryByID(id int64) (*model.Library, error)
	GetEnabledLibraries() ([]*model.Library, error)
	UpdateLastScanAt(id int64, scannedAt time.Time) error
	DeleteLibrary(id int64) error
}

// mysqlLibraryRepository implements LibraryRepository for MySQL.
type mysqlLibraryRepository struct {
	DB *sql.DB
}

// NewMySQLLibraryRepository creates a new instance of mysqlLibraryRepository.
func NewMySQLLibraryRepository() LibraryRepository {
	return &mysqlLibraryRepository{DB: db.DB}
}

const libraryColumns = `id, name, path, media_type, enabled, last_scan_at, created_at, updated_at`

// CreateLibrary adds a new library to the database.
func (r *mysqlLibraryRepository) CreateLibrary(library *model.Library) (int64, error) {
	query := `INSERT INTO libraries (name, path, media_type, enabled, created_at, updated_at)
	           VALUES (?, ?, ?, ?, ?, ?)`
	stmt, err := r.DB.Prepare(query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement for CreateLibrary: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	res, err := stmt.Exec(library.Name, library.Path, library.MediaType, library.Enabled, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to execute CreateLibrary: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for CreateLibrary: %w", err)
	}
	return id, nil
}

// GetLibraryByID retrieves a library by its ID. Returns (nil, nil) when absent.
func (r *mysqlLibraryRepository) GetLibraryByID(id int64) (*model.Library, error) {
	query := `SELECT ` + libraryColumns + ` FROM libraries WHERE id = ?`
	row := r.DB.QueryRow(query, id)

	library := &model.Library{}
	err := row.Scan(&library.ID, &library.Name, &library.Path, &library.MediaType,
		&library.Enabled, &library.LastScanAt, &library.CreatedAt, &library.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan library by ID %d: %w", id, err)
	}
	return library, nil
}

// GetEnabledLibraries retrieves all enabled libraries.
func (r *mysqlLibraryRepository) GetEnabledLibraries() ([]*model.Library, error) {
	query := `SELECT ` + libraryColumns + ` FROM libraries WHERE enabled = TRUE ORDER BY id`
	rows, err := r.DB.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query enabled libraries: %w", err)
	}
	defer rows.Close()

	libraries := make([]*model.Library, 0)
	for rows.Next() {
		library := &model.Library{}
		err := rows.Scan(&library.ID, &library.Name, &library.Path, &library.MediaType,
			&library.Enabled, &library.LastScanAt, &library.CreatedAt, &library.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan library in GetEnabledLibraries: %w", err)
		}
		libraries = append(libraries, library)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration in GetEnabledLibraries: %w", err)
	}
	return libraries, nil
}

// UpdateLastScanAt persists the completion time of a library scan.
func (r *mysqlLibraryRepository) UpdateLastScanAt(id int64, scannedAt time.Time) error {
	query := `UPDATE libraries SET last_scan_at = ?, updated_at = ? WHERE id = ?`
	_, err := r.DB.Exec(query, scannedAt, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update last_scan_at for library %d: %w", id, err)
	}
	return nil
}

// DeleteLibrary removes a library row.
func (r *mysqlLibraryRepository) DeleteLibrary(id int64) error {
	_, err := r.DB.Exec(`DELETE FROM libraries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete library %d: %w", id, err)
	}
	return nil
}
