package vectorstore

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

var collectionHashPattern = regexp.MustCompile(`^[a-f0-9]{8}$`)

// openResilientDB opens a persistent chromem DB, quarantining collections
// left without a metadata file. An ingestion killed while staging a
// generation can leave such a directory behind; it must not block startup.
func openResilientDB(path string, compress bool, logger *zap.Logger) (*chromem.DB, error) {
	db, err := chromem.NewPersistentDB(path, compress)
	if err == nil {
		return db, nil
	}
	if !strings.Contains(err.Error(), "collection metadata file not found") {
		return nil, err
	}

	corrupt, findErr := findCorruptCollections(path, logger)
	if findErr != nil || len(corrupt) == 0 {
		return nil, err
	}

	quarantine := filepath.Join(path, ".quarantine")
	if err := os.MkdirAll(quarantine, 0o755); err != nil {
		return nil, fmt.Errorf("creating quarantine directory: %w", err)
	}

	for _, hash := range corrupt {
		// Directory names come from disk; never join anything but a hash.
		if !collectionHashPattern.MatchString(hash) {
			logger.Error("skipping collection with unexpected name", zap.String("hash", hash))
			continue
		}
		src := filepath.Join(path, hash)
		dst := filepath.Join(quarantine, hash)
		logger.Warn("quarantining collection without metadata",
			zap.String("collection_hash", hash),
			zap.String("to", dst),
		)
		if err := os.Rename(src, dst); err != nil {
			logger.Error("quarantine failed", zap.String("collection_hash", hash), zap.Error(err))
			RecordQuarantineResult(false)
			continue
		}
		RecordQuarantineResult(true)
	}

	db, err = chromem.NewPersistentDB(path, compress)
	if err != nil {
		return nil, fmt.Errorf("reopening after quarantine: %w", err)
	}
	logger.Info("chromem DB opened after quarantine", zap.Int("quarantined", len(corrupt)))
	return db, nil
}

// findCorruptCollections returns collection directories that hold document
// files but no metadata file.
func findCorruptCollections(path string, logger *zap.Logger) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("reading directory: %w", err)
	}

	var corrupt []string
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		dir := filepath.Join(path, entry.Name())
		if _, err := os.Stat(filepath.Join(dir, "00000000.gob")); !os.IsNotExist(err) {
			continue
		}

		files, err := os.ReadDir(dir)
		if err != nil {
			logger.Warn("cannot inspect collection directory",
				zap.String("collection_hash", entry.Name()),
				zap.Error(err))
			continue
		}
		for _, f := range files {
			if !f.IsDir() && strings.HasSuffix(f.Name(), ".gob") {
				corrupt = append(corrupt, entry.Name())
				break
			}
		}
	}
	return corrupt, nil
}
