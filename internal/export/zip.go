package export

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"strings"
	"time"

	"attest/api/internal/attachment"
)

// bundlePath is where an attachment lands inside the ZIP bundle.
func bundlePath(key string) string {
	clean := strings.TrimPrefix(path.Clean("/"+key), "/")
	return "evidences/" + strings.TrimPrefix(clean, "evidences/")
}

func (s *Service) exportZIP(ctx context.Context, html, title string, rows []Row) (*Result, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	modified := s.now()

	if err := writeZipEntry(zw, "index.html", modified, strings.NewReader(html)); err != nil {
		return nil, err
	}

	written := map[string]bool{}
	for _, row := range rows {
		for _, ev := range row.Evidences {
			if ev.AttachmentKey == "" || ev.Filename == "" || written[ev.Filename] {
				continue
			}
			written[ev.Filename] = true
			if s.attachments == nil {
				continue
			}
			if err := s.copyAttachment(ctx, zw, ev, modified); err != nil {
				if errors.Is(err, attachment.ErrNotFound) {
					log.Printf("export: attachment %s of evidence %s missing, skipped", ev.AttachmentKey, ev.ID)
					continue
				}
				return nil, err
			}
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close zip: %w", err)
	}
	return &Result{
		Data:     buf.Bytes(),
		Filename: sanitizeFilename(title) + ".zip",
		MimeType: "application/zip",
	}, nil
}

func (s *Service) copyAttachment(ctx context.Context, zw *zip.Writer, ev Evidence, modified time.Time) error {
	rc, _, err := s.attachments.Get(ctx, ev.AttachmentKey)
	if err != nil {
		return err
	}
	defer rc.Close()
	return writeZipEntry(zw, ev.Filename, modified, rc)
}

func writeZipEntry(zw *zip.Writer, name string, modified time.Time, r io.Reader) error {
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: modified,
	})
	if err != nil {
		return fmt.Errorf("zip entry %s: %w", name, err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("write zip entry %s: %w", name, err)
	}
	return nil
}
