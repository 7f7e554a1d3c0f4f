package tabular

import (
	"archive/zip"
	"fmt"
	"io"
	"time"
)

const ZipMediaType = "application/zip"

// Entry is one file of an archive.
type Entry struct {
	Name string
	Data []byte
}

// WriteZip deflates entries into w in the given order.
func WriteZip(w io.Writer, modified time.Time, entries ...Entry) error {
	zw := zip.NewWriter(w)
	for _, e := range entries {
		f, err := zw.CreateHeader(&zip.FileHeader{
			Name:     e.Name,
			Method:   zip.Deflate,
			Modified: modified,
		})
		if err != nil {
			return fmt.Errorf("add %s: %w", e.Name, err)
		}
		if _, err := f.Write(e.Data); err != nil {
			return fmt.Errorf("write %s: %w", e.Name, err)
		}
	}
	return zw.Close()
}
