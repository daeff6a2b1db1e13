package utils

import (
	"os"
	"path/filepath"
	"runtime"
)

// FindProjectRoot walks up from this source file to the directory holding go.mod.
// It panics when there is none, which only happens outside a source checkout.
func FindProjectRoot() string {
	_, filename, _, _ := runtime.Caller(0)

	for dir := filepath.Dir(filename); ; dir = filepath.Dir(dir) {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		if dir == filepath.Dir(dir) {
			panic("go.mod not found above " + filename)
		}
	}
}

// ProjectPath joins elem onto the project root
func ProjectPath(elem ...string) string {
	return filepath.Join(append([]string{FindProjectRoot()}, elem...)...)
}

// MigrationSourceURL is the golang-migrate source URL of the checked-in migrations
func MigrationSourceURL() string {
	return "file://" + ProjectPath("migrations")
}
