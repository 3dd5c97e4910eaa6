package transfer

import (
	"fmt"
	"io"
	"os"
	"strings"

	apperrors "github.com/fgeck/mysql-sync-manager/internal/errors"
	"github.com/fgeck/mysql-sync-manager/internal/models"
	"github.com/klauspost/compress/gzip"
)

// Extract returns a plain SQL file for artifactPath. A .sql.gz artifact is
// decompressed next to itself and removed; a .sql artifact is returned as is.
func (s *Impl) Extract(artifactPath string) (string, error) {
	format, err := models.DetectFormat(artifactPath)
	if err != nil {
		return "", apperrors.Backup(apperrors.StageExtraction, "cannot import artifact", err)
	}
	if format == models.FormatSQL {
		return artifactPath, nil
	}

	sqlPath := strings.TrimSuffix(artifactPath, ".gz")
	if err := gunzip(artifactPath, sqlPath); err != nil {
		_ = os.Remove(sqlPath)
		return "", apperrors.Backup(apperrors.StageExtraction, "failed to decompress artifact", err)
	}

	if err := os.Remove(artifactPath); err != nil {
		s.logger.Warn().Err(err).Str("path", artifactPath).Msg("failed to remove compressed artifact")
	}

	s.logger.Info().Str("path", sqlPath).Msg("artifact extracted")
	return sqlPath, nil
}

func gunzip(src, dst string) error {
	in, err := os.Open(src) //nolint:gosec // artifact path is produced by Fetch
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	zr, err := gzip.NewReader(in)
	if err != nil {
		return fmt.Errorf("invalid gzip header: %w", err)
	}
	defer func() { _ = zr.Close() }()

	out, err := os.Create(dst) //nolint:gosec // destination sits next to the artifact
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, zr); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
