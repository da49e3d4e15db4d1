package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

func GetRandomUserAgent() string {
	return userAgents[time.Now().UnixNano()%int64(len(userAgents))]
}

func RenewOutputPath(outputPath string) string {
	dir := filepath.Dir(outputPath)
	base := filepath.Base(outputPath)
	ext := filepath.Ext(base)
	name := base[:len(base)-len(ext)]
	index := 1
	for {
		outputPath = filepath.Join(dir, fmt.Sprintf("%s-(%d)%s", name, index, ext))
		if _, err := os.Stat(outputPath); os.IsNotExist(err) {
			return outputPath
		}
		index++
	}
}

func ParseHeaderArgs(headers []string) map[string]string {
	result := make(map[string]string)
	for _, header := range headers {
		parts := strings.SplitN(header, ":", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			result[key] = value
		}
	}
	return result
}

func FormatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func FormatSpeed(bytes int64, elapsed float64) string {
	if elapsed == 0 {
		return "0 B/s"
	}
	bps := float64(bytes) / elapsed
	formatted := FormatBytes(uint64(bps))
	return formatted[:len(formatted)-1] + "B/s" // Slice off "B" and add "B/s"
}

// WorkspaceDir returns the transient workspace directory for an output path.
func WorkspaceDir(outputPath string) string {
	return filepath.Join(filepath.Dir(outputPath), WorkspaceDirName)
}

// CleanLocal removes the workspace directory in the current directory.
func CleanLocal() error {
	tempDir := filepath.Join(filepath.Dir("."), WorkspaceDirName)
	_, err := os.Stat(tempDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return os.RemoveAll(tempDir)
}

// CleanWorkspace removes the partial files and plan file belonging to
// outputPath, then the workspace directory itself if nothing else remains.
func CleanWorkspace(outputPath string) error {
	tempDir := WorkspaceDir(outputPath)
	files, err := os.ReadDir(tempDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	base := filepath.Base(outputPath)
	for _, file := range files {
		name := file.Name()
		if strings.HasPrefix(name, base+".part") || name == base+".plan.yaml" {
			if err := os.Remove(filepath.Join(tempDir, name)); err != nil {
				return err
			}
		}
	}
	remaining, err := os.ReadDir(tempDir)
	if err != nil {
		return err
	}
	if len(remaining) == 0 {
		return os.Remove(tempDir)
	}
	return nil
}
