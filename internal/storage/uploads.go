package storage

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// UploadStatus is the final (or current) outcome of an upload.
type UploadStatus string

const (
	UploadPending   UploadStatus = "pending"
	UploadPolling   UploadStatus = "polling"
	UploadCompleted UploadStatus = "completed"
	UploadFailed    UploadStatus = "failed"     // The upload request itself failed
	UploadPollError UploadStatus = "poll_error" // Image search reported an error
	UploadReset     UploadStatus = "reset"      // Abandoned by the user
)

// Upload is one menu image a user sent for recognition.
type Upload struct {
	ID           string
	TelegramID   int64
	ImageHash    string
	Filename     string
	SizeBytes    int64
	SessionID    string
	TotalItems   int
	MatchedItems int
	Status       UploadStatus
	Error        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HashImage returns the hex BLAKE2b-256 fingerprint of image bytes.
func HashImage(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

const uploadColumns = `id, telegram_id, image_hash, filename, size_bytes, session_id,
	total_items, matched_items, status, error, created_at, updated_at`

// RecordUpload inserts a pending upload for the given image.
func (s *SQLiteStore) RecordUpload(telegramID int64, filename string, data []byte) (*Upload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	upload := &Upload{
		ID:         uuid.NewString(),
		TelegramID: telegramID,
		ImageHash:  HashImage(data),
		Filename:   filename,
		SizeBytes:  int64(len(data)),
		Status:     UploadPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	_, err := s.db.Exec(`INSERT INTO uploads (`+uploadColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		upload.ID, upload.TelegramID, upload.ImageHash, upload.Filename, upload.SizeBytes, upload.SessionID,
		upload.TotalItems, upload.MatchedItems, upload.Status, upload.Error, upload.CreatedAt, upload.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to record upload: %w", err)
	}

	return upload, nil
}

// UpdateUpload stores the session, counts, status and error of an upload.
func (s *SQLiteStore) UpdateUpload(upload *Upload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	upload.UpdatedAt = time.Now().UTC()
	result, err := s.db.Exec(`
		UPDATE uploads SET
			session_id = ?,
			total_items = ?,
			matched_items = ?,
			status = ?,
			error = ?,
			updated_at = ?
		WHERE id = ?
	`, upload.SessionID, upload.TotalItems, upload.MatchedItems, upload.Status, upload.Error, upload.UpdatedAt, upload.ID)
	if err != nil {
		return fmt.Errorf("failed to update upload: %w", err)
	}

	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("upload %s not found", upload.ID)
	}
	return nil
}

// RecentUploads returns a user's most recent uploads, newest first.
func (s *SQLiteStore) RecentUploads(telegramID int64, limit int) ([]Upload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT `+uploadColumns+` FROM uploads WHERE telegram_id = ? ORDER BY created_at DESC LIMIT ?`,
		telegramID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query uploads: %w", err)
	}
	defer rows.Close()

	var uploads []Upload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, *u)
	}

	return uploads, rows.Err()
}

// FindUploadByHash returns the user's most recent completed upload of the
// same image, or nil, nil if there is none.
func (s *SQLiteStore) FindUploadByHash(telegramID int64, imageHash string) (*Upload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		`SELECT `+uploadColumns+` FROM uploads
		WHERE telegram_id = ? AND image_hash = ? AND status = ?
		ORDER BY created_at DESC LIMIT 1`,
		telegramID, imageHash, UploadCompleted,
	)
	u, err := scanUpload(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

// PruneUploads deletes uploads older than maxAge and returns how many were
// removed.
func (s *SQLiteStore) PruneUploads(maxAge time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-maxAge)
	result, err := s.db.Exec(`DELETE FROM uploads WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune uploads: %w", err)
	}

	return result.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUpload(row scanner) (*Upload, error) {
	var u Upload
	var status string
	err := row.Scan(&u.ID, &u.TelegramID, &u.ImageHash, &u.Filename, &u.SizeBytes, &u.SessionID,
		&u.TotalItems, &u.MatchedItems, &status, &u.Error, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan upload: %w", err)
	}
	u.Status = UploadStatus(status)
	return &u, nil
}
