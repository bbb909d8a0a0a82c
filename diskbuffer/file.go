package diskbuffer

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// File is the random access store the buffer pages records into. *os.File
// satisfies it.
type File interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
}

// OpenFile opens, creating if necessary, the backing file at path.
func OpenFile(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
}

// OpenTemp creates a new, uniquely named, backing file in dir.
func OpenTemp(dir string) (*os.File, error) {
	name := filepath.Join(dir, fmt.Sprintf("mdevents-%s.buf", uuid.NewString()))
	return os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
}
