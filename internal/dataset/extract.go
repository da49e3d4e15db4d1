package dataset

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// ExtractZip unpacks archivePath under destDir and removes the archive on
// success. Entries that would escape destDir are rejected.
func ExtractZip(archivePath, destDir string) error {
	entries, err := extractAll(archivePath, destDir)
	if err != nil {
		return err
	}
	if err := os.Remove(archivePath); err != nil {
		return fmt.Errorf("error removing archive after extraction: %v", err)
	}
	log.Info().Str("op", "dataset/extract").Msgf("Extracted %d entries from %s", entries, filepath.Base(archivePath))
	return nil
}

func extractAll(archivePath, destDir string) (int, error) {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return 0, fmt.Errorf("error opening archive: %v", err)
	}
	defer reader.Close()

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return 0, fmt.Errorf("error creating destination directory: %v", err)
	}
	for _, entry := range reader.File {
		if err := extractEntry(entry, destDir); err != nil {
			return 0, err
		}
	}
	return len(reader.File), nil
}

func extractEntry(entry *zip.File, destDir string) error {
	targetPath := filepath.Join(destDir, entry.Name)
	// Zip-slip guard
	if !strings.HasPrefix(targetPath, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return fmt.Errorf("archive entry escapes destination: %s", entry.Name)
	}
	if entry.FileInfo().IsDir() {
		return os.MkdirAll(targetPath, 0755)
	}
	if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
		return err
	}
	src, err := entry.Open()
	if err != nil {
		return fmt.Errorf("error opening archive entry %s: %v", entry.Name, err)
	}
	defer src.Close()
	dst, err := os.OpenFile(targetPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, entry.Mode())
	if err != nil {
		return fmt.Errorf("error creating %s: %v", targetPath, err)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("error extracting %s: %v", entry.Name, err)
	}
	return nil
}
