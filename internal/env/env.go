package env

import (
	"os"
	"path/filepath"
)

// CacheEnv overrides the workspace root when set.
const CacheEnv = "VBUILD_CACHE"

// WorkDir returns the vbuild workspace root, $VBUILD_CACHE or
// <user cache dir>/vbuild.
func WorkDir() (string, error) {
	if dir := os.Getenv(CacheEnv); dir != "" {
		return filepath.Abs(dir)
	}
	userCacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(userCacheDir, "vbuild"), nil
}

// ArtifactDir returns the directory of the shared artifact cache, creating
// it if needed.
func ArtifactDir() (string, error) {
	return subdir("artifacts")
}

// ScratchDir returns the directory holding per-build compiler target dirs,
// creating it if needed.
func ScratchDir() (string, error) {
	return subdir("scratch")
}

func subdir(name string) (string, error) {
	root, err := WorkDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}
