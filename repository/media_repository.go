package repository

import (
	"database/sql"
	"fmt"
	"time"

	"FeiLiu/db"
	"FeiLiu/model"
)

// MediaItemRepository defines the interface for catalog data operations.
type MediaItemRepository interface {
	GetMediaItemByID(id int64) (*model.MediaItem, error)
	GetByLibraryAndRelPath(libraryID int64, relPath string) (*model.MediaItem, error)
	GetByLibraryAndPath(libraryID int64, path string) (*model.MediaItem, error)
	GetAllByLibraryID(libraryID int64) ([]*model.MediaItem, error)
	UpsertMediaItem(item *model.MediaItem) (int64, bool, error)
	DeleteMediaItem(id int64) error
}

// mysqlMediaItemRepository implements MediaItemRepository for MySQL.
type mysqlMediaItemRepository struct {
	DB *sql.DB
}

// NewMySQLMediaItemRepository creates a new instance of mysqlMediaItemRepository.
func NewMySQLMediaItemRepository() MediaItemRepository {
	return &mysqlMediaItemRepository{DB: db.DB}
}

const mediaItemColumns = `id, library_id, title, path, rel_path, size, duration,
	video_codec, audio_codec, width, height, thumbnail_path, file_modified_at, created_at, updated_at`

func scanMediaItem(row interface{ Scan(...interface{}) error }) (*model.MediaItem, error) {
	item := &model.MediaItem{}
	var videoCodec, audioCodec, thumbnailPath sql.NullString
	var fileModifiedAt sql.NullTime
	err := row.Scan(&item.ID, &item.LibraryID, &item.Title, &item.Path, &item.RelPath,
		&item.Size, &item.Duration, &videoCodec, &audioCodec, &item.Width, &item.Height,
		&thumbnailPath, &fileModifiedAt, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	item.VideoCodec = videoCodec.String
	item.AudioCodec = audioCodec.String
	item.ThumbnailPath = thumbnailPath.String
	if fileModifiedAt.Valid {
		item.FileModifiedAt = fileModifiedAt.Time
	}
	return item, nil
}

// GetMediaItemByID retrieves a media item by its ID. Returns (nil, nil) when absent.
func (r *mysqlMediaItemRepository) GetMediaItemByID(id int64) (*model.MediaItem, error) {
	query := `SELECT ` + mediaItemColumns + ` FROM media_items WHERE id = ?`
	item, err := scanMediaItem(r.DB.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan media item by ID %d: %w", id, err)
	}
	return item, nil
}

// GetByLibraryAndRelPath looks up the catalog row by its natural key.
func (r *mysqlMediaItemRepository) GetByLibraryAndRelPath(libraryID int64, relPath string) (*model.MediaItem, error) {
	query := `SELECT ` + mediaItemColumns + ` FROM media_items WHERE library_id = ? AND rel_path = ?`
	item, err := scanMediaItem(r.DB.QueryRow(query, libraryID, relPath))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan media item by rel path %q: %w", relPath, err)
	}
	return item, nil
}

// GetByLibraryAndPath looks up the catalog row by absolute path.
// Used by the watcher's unlink handling.
func (r *mysqlMediaItemRepository) GetByLibraryAndPath(libraryID int64, path string) (*model.MediaItem, error) {
	query := `SELECT ` + mediaItemColumns + ` FROM media_items WHERE library_id = ? AND path = ?`
	item, err := scanMediaItem(r.DB.QueryRow(query, libraryID, path))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan media item by path %q: %w", path, err)
	}
	return item, nil
}

// GetAllByLibraryID retrieves all media items in a library.
func (r *mysqlMediaItemRepository) GetAllByLibraryID(libraryID int64) ([]*model.MediaItem, error) {
	query := `SELECT ` + mediaItemColumns + ` FROM media_items WHERE library_id = ? ORDER BY rel_path`
	rows, err := r.DB.Query(query, libraryID)
	if err != nil {
		return nil, fmt.Errorf("failed to query media items for library %d: %w", libraryID, err)
	}
	defer rows.Close()

	items := make([]*model.MediaItem, 0)
	for rows.Next() {
		item, err := scanMediaItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan media item in GetAllByLibraryID: %w", err)
		}
		items = append(items, item)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration in GetAllByLibraryID: %w", err)
	}
	return items, nil
}

// UpsertMediaItem inserts or updates the row keyed on (library_id, rel_path).
// Returns the row id and whether a new row was created.
func (r *mysqlMediaItemRepository) UpsertMediaItem(item *model.MediaItem) (int64, bool, error) {
	existing, err := r.GetByLibraryAndRelPath(item.LibraryID, item.RelPath)
	if err != nil {
		return 0, false, err
	}

	now := time.Now()
	if existing == nil {
		query := `INSERT INTO media_items
			(library_id, title, path, rel_path, size, duration, video_codec, audio_codec,
			 width, height, thumbnail_path, file_modified_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		stmt, err := r.DB.Prepare(query)
		if err != nil {
			return 0, false, fmt.Errorf("failed to prepare statement for UpsertMediaItem: %w", err)
		}
		defer stmt.Close()

		res, err := stmt.Exec(item.LibraryID, item.Title, item.Path, item.RelPath,
			item.Size, item.Duration, item.VideoCodec, item.AudioCodec,
			item.Width, item.Height, item.ThumbnailPath, item.FileModifiedAt, now, now)
		if err != nil {
			return 0, false, fmt.Errorf("failed to execute insert in UpsertMediaItem: %w", err)
		}

		id, err := res.LastInsertId()
		if err != nil {
			return 0, false, fmt.Errorf("failed to get last insert ID for UpsertMediaItem: %w", err)
		}
		item.ID = id
		return id, true, nil
	}

	query := `UPDATE media_items SET
		title = ?, path = ?, size = ?, duration = ?, video_codec = ?, audio_codec = ?,
		width = ?, height = ?, thumbnail_path = ?, file_modified_at = ?, updated_at = ?
		WHERE id = ?`
	_, err = r.DB.Exec(query, item.Title, item.Path, item.Size, item.Duration,
		item.VideoCodec, item.AudioCodec, item.Width, item.Height,
		item.ThumbnailPath, item.FileModifiedAt, now, existing.ID)
	if err != nil {
		return 0, false, fmt.Errorf("failed to execute update in UpsertMediaItem: %w", err)
	}
	item.ID = existing.ID
	return existing.ID, false, nil
}

// DeleteMediaItem removes a catalog row.
func (r *mysqlMediaItemRepository) DeleteMediaItem(id int64) error {
	_, err := r.DB.Exec(`DELETE FROM media_items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete media item %d: %w", id, err)
	}
	return nil
}
