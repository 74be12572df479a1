package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

var (
	pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)
	unsafeNameChars      = regexp.MustCompile(`[^a-zA-Z0-9._-]`)
)

// BuildArchivePath partitions archived flushes by UTC date and hour.
func BuildArchivePath(flushedAt time.Time) string {
	ts := flushedAt.UTC()
	return path.Join(
		"archive",
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		fmt.Sprintf("hour=%02d", ts.Hour()),
		fmt.Sprintf("flush-%d.parquet", ts.UnixNano()),
	)
}

// BuildCarvePath places a carved file under the distributed request that asked for it.
// Carves outside a distributed request are filed under "adhoc".
func BuildCarvePath(requestID, guid, sourcePath string) (string, error) {
	if requestID == "" {
		requestID = "adhoc"
	}
	if err := validatePathComponent(requestID, "request id"); err != nil {
		return "", err
	}
	if err := validatePathComponent(guid, "carve guid"); err != nil {
		return "", err
	}
	return path.Join("carves", requestID, guid, SanitizeName(path.Base(sourcePath))), nil
}

// SanitizeName maps an arbitrary file name onto the characters allowed in object keys.
func SanitizeName(name string) string {
	name = strings.TrimLeft(unsafeNameChars.ReplaceAllString(name, "_"), "._-")
	if name == "" {
		return "file"
	}
	if len(name) > 128 {
		name = name[:128]
	}
	return name
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
