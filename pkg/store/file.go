package store

import (
	"bytes"
	"compress/zlib"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/docker/go-units"
	"gorm.io/gorm"
)

// NeedFileContent reports whether the caller must (re)send the body for
// (run, path). A file that is missing, or whose inc_count lags the run's,
// needs content; otherwise the stored body is still fresh. The returned id
// is the File row to address in AddFileContent.
func (s *store) NeedFileContent(
	ctx context.Context, runID uint, path string,
) (bool, uint, error) {
	var (
		needed bool
		fileID uint
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var run Run
		if err := tx.First(&run, runID).Error; err != nil {
			return fmt.Errorf("getting run: %w", err)
		}

		var file File

		err := tx.Where("run_id = ? AND filepath = ?", runID, path).
			First(&file).Error

		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			file = File{
				RunID:    runID,
				Filepath: path,
				IncCount: run.IncCount,
			}

			if err := tx.Create(&file).Error; err != nil {
				return fmt.Errorf("creating file: %w", err)
			}

			needed = true

		case err != nil:
			return fmt.Errorf("looking up file: %w", err)

		case file.IncCount < run.IncCount:
			file.IncCount = run.IncCount

			if err := tx.Save(&file).Error; err != nil {
				return fmt.Errorf("bumping file inc count: %w", err)
			}

			needed = true
		}

		fileID = file.ID

		return nil
	})
	if err != nil {
		return false, 0, err
	}

	return needed, fileID, nil
}

// AddFileContent compresses and stores a source body for an existing file
// row. Identical bodies share one FileContent record via their content
// hash. Writing to an unknown file id is a caller bug and fails.
func (s *store) AddFileContent(
	ctx context.Context, fileID uint, content []byte,
) error {
	sum := sha256.Sum256(content)
	contentHash := hex.EncodeToString(sum[:])

	compressed, err := compress(content)
	if err != nil {
		return fmt.Errorf("compressing content: %w", err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var file File
		if err := tx.First(&file, fileID).Error; err != nil {
			return fmt.Errorf("file %d does not exist: %w", fileID, err)
		}

		fc := FileContent{ContentHash: contentHash, Content: compressed}
		if err := tx.Where("content_hash = ?", contentHash).
			FirstOrCreate(&fc).Error; err != nil {
			return fmt.Errorf("storing file content: %w", err)
		}

		file.ContentHash = contentHash

		if err := tx.Save(&file).Error; err != nil {
			return fmt.Errorf("linking file content: %w", err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	s.log.WithField("file_id", fileID).
		WithField("size", units.HumanSize(float64(len(content)))).
		WithField("stored", units.HumanSize(float64(len(compressed)))).
		Debug("File content stored")

	return nil
}

// GetFileContent returns the decompressed source body of a file.
func (s *store) GetFileContent(
	ctx context.Context, fileID uint,
) ([]byte, error) {
	var file File
	if err := s.db.WithContext(ctx).First(&file, fileID).Error; err != nil {
		return nil, fmt.Errorf("getting file: %w", err)
	}

	if file.ContentHash == "" {
		return nil, fmt.Errorf("file %d has no stored content", fileID)
	}

	var fc FileContent
	if err := s.db.WithContext(ctx).
		Where("content_hash = ?", file.ContentHash).
		First(&fc).Error; err != nil {
		return nil, fmt.Errorf("getting file content: %w", err)
	}

	return decompress(fc.Content)
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	w, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, err
	}

	if _, err := w.Write(data); err != nil {
		return nil, err
	}

	if err := w.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("opening compressed content: %w", err)
	}
	defer func() { _ = r.Close() }()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompressing content: %w", err)
	}

	return out, nil
}
