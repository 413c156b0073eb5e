// Package validation checks and sanitises configuration input: broker and sink addresses,
// MQTT topics, TLS store and snapshot paths, and credentials.
package validation

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ValidateSSLFilePath checks a TLS key or trust store path: no traversal, inside one of
// allowedDirs when any are given, and an existing readable regular file.
func ValidateSSLFilePath(path string, allowedDirs []string) error {
	if path == "" {
		return fmt.Errorf("file path cannot be empty")
	}
	if strings.Contains(path, "..") {
		return fmt.Errorf("path traversal not allowed in file path")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("invalid file path: %w", err)
	}

	if len(allowedDirs) > 0 && !withinAny(absPath, allowedDirs) {
		return fmt.Errorf("file path not in allowed directories")
	}

	info, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("file does not exist: %s", absPath)
		}
		return fmt.Errorf("file not accessible: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("path is not a regular file: %s", absPath)
	}

	f, err := os.Open(absPath)
	if err != nil {
		return fmt.Errorf("file not readable: %w", err)
	}
	return f.Close()
}

// ValidateConfigPath checks that the configuration file exists.
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path cannot be empty")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("invalid config path: %w", err)
	}

	if _, err := os.Stat(absPath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("config file does not exist: %s", absPath)
		}
		return fmt.Errorf("config file not accessible: %w", err)
	}
	return nil
}

func withinAny(absPath string, dirs []string) bool {
	for _, dir := range dirs {
		absDir, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(absDir, absPath)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// ValidateWritablePath checks that a file can be created or opened for writing at path,
// as needed for the backlog snapshot database.
func ValidateWritablePath(path string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if strings.Contains(path, "..") {
		return fmt.Errorf("path traversal not allowed in file path")
	}

	cleanPath := filepath.Clean(path)
	if info, err := os.Stat(cleanPath); err == nil && info.IsDir() {
		return fmt.Errorf("path is a directory: %s", cleanPath)
	}

	dir := filepath.Dir(cleanPath)
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("directory does not exist: %s", dir)
		}
		return fmt.Errorf("directory not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("not a directory: %s", dir)
	}

	probe, err := os.CreateTemp(dir, ".energybridge-*")
	if err != nil {
		return fmt.Errorf("directory not writable: %w", err)
	}
	probe.Close()
	os.Remove(probe.Name())
	return nil
}
