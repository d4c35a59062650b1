// Package archive extracts the submission ZIP archives the front end
// hands the worker.
package archive

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"

	"judgeworker/pkg/errors"
)

// Extract unpacks every regular file entry of the archive at path into
// destDir, preserving the archive's relative paths.
func Extract(path, destDir string) error {
	r, err := zip.OpenReader(path)
	if err != nil {
		return errors.Wrapf(err, errors.BadSubmissionArchive, "open archive %s", path)
	}
	defer r.Close()

	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		target := filepath.Join(destDir, filepath.Clean("/"+f.Name))
		if err := os.MkdirAll(filepath.Dir(target), 0777); err != nil {
			return errors.Wrapf(err, errors.BadSubmissionArchive, "create dir for %s", f.Name)
		}
		if err := extractOne(f, target); err != nil {
			return err
		}
	}
	return nil
}

func extractOne(f *zip.File, target string) error {
	src, err := f.Open()
	if err != nil {
		return errors.Wrapf(err, errors.BadSubmissionArchive, "open entry %s", f.Name)
	}
	defer src.Close()

	mode := f.Mode()
	if mode == 0 {
		mode = 0644
	}
	dst, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return errors.Wrapf(err, errors.BadSubmissionArchive, "create %s", target)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return errors.Wrapf(err, errors.BadSubmissionArchive, "extract %s", f.Name)
	}
	return nil
}

// FirstEntryName returns the name of the archive's first entry, the
// mainfile heuristic used when a submission doesn't name one explicitly.
func FirstEntryName(path string) (string, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return "", errors.Wrapf(err, errors.BadSubmissionArchive, "open archive %s", path)
	}
	defer r.Close()
	if len(r.File) == 0 {
		return "", errors.New(errors.BadSubmissionEmpty)
	}
	return strings.TrimPrefix(r.File[0].Name, "/"), nil
}
