package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ArtifactFormat is derived purely from an artifact's file name.
type ArtifactFormat string

// Supported artifact formats.
const (
	FormatSQL   ArtifactFormat = ".sql"
	FormatSQLGz ArtifactFormat = ".sql.gz"
)

// artifactTimeLayout is the bit-exact timestamp of artifact names.
const artifactTimeLayout = "20060102-150405"

// ErrUnsupportedFormat is returned for names other than .sql and .sql.gz.
var ErrUnsupportedFormat = errors.New("unsupported artifact format")

// DetectFormat returns the format implied by path's suffix.
func DetectFormat(path string) (ArtifactFormat, error) {
	switch {
	case strings.HasSuffix(path, string(FormatSQLGz)):
		return FormatSQLGz, nil
	case strings.HasSuffix(path, string(FormatSQL)):
		return FormatSQL, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// ArtifactName returns <database>-export-<YYYYMMDD>-<HHMMSS>.sql.gz.
func ArtifactName(database string, t time.Time) string {
	return fmt.Sprintf("%s-export-%s%s", database, t.Format(artifactTimeLayout), FormatSQLGz)
}
