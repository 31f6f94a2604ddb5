package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/c360/countertop/errors"
)

// Limits applied to anything the loader reads from outside the process.
const (
	maxConfigSize = 10 << 20
	maxEnvVarLen  = 10000
	maxPathLen    = 4096
)

var configExtensions = []string{".yaml", ".yml", ".json"}

// checkConfigPath rejects empty or overlong paths, relative paths that
// climb out of the working directory and unknown extensions.
func checkConfigPath(path string) error {
	switch {
	case path == "":
		return errors.New("empty config path")
	case len(path) > maxPathLen:
		return fmt.Errorf("path longer than %d bytes", maxPathLen)
	}

	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolve working directory: %w", err)
		}
		rel, err := filepath.Rel(cwd, filepath.Join(cwd, path))
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return fmt.Errorf("%s escapes the working directory", path)
		}
	}

	if !slices.Contains(configExtensions, strings.ToLower(filepath.Ext(path))) {
		return fmt.Errorf("%s: config files must be YAML or JSON", path)
	}
	return nil
}

// readConfigFile reads a regular file no larger than maxConfigSize after
// checkConfigPath accepts its path.
func readConfigFile(path string) ([]byte, error) {
	const op = "readConfigFile"
	if err := checkConfigPath(path); err != nil {
		return nil, errors.WrapInvalid(err, "config", op, "check path")
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "config", op, "stat "+path)
	}
	if !info.Mode().IsRegular() {
		return nil, errors.WrapInvalid(fmt.Errorf("%s is not a regular file", path), "config", op, "check mode")
	}
	if info.Size() > maxConfigSize {
		return nil, errors.WrapInvalid(fmt.Errorf("%s is %d bytes, limit %d", path, info.Size(), maxConfigSize),
			"config", op, "check size")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapTransient(err, "config", op, "read "+path)
	}
	return data, nil
}

func checkEnvValue(key, value string) error {
	if len(value) > maxEnvVarLen {
		return fmt.Errorf("%s is longer than %d bytes", key, maxEnvVarLen)
	}
	if strings.IndexByte(value, 0) >= 0 {
		return fmt.Errorf("%s contains a NUL byte", key)
	}
	return nil
}
