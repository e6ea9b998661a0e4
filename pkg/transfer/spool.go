package transfer

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/marmos91/dittoshuffle/pkg/shuffle"
)

// spool buffers a download in memory and moves it to a local file once it
// outgrows limit bytes.
type spool struct {
	dir   string
	limit int64
	id    shuffle.BlockID

	buf  bytes.Buffer
	file *os.File
	n    int64
}

func newSpool(dir string, limit int64, id shuffle.BlockID) *spool {
	return &spool{dir: dir, limit: limit, id: id}
}

func (s *spool) Write(p []byte) (int, error) {
	if s.file == nil && int64(s.buf.Len())+int64(len(p)) <= s.limit {
		n, err := s.buf.Write(p)
		s.n += int64(n)
		return n, err
	}
	if s.file == nil {
		if err := s.spill(); err != nil {
			return 0, err
		}
	}
	n, err := s.file.Write(p)
	s.n += int64(n)
	return n, err
}

func (s *spool) spill() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create spill directory: %w", err)
	}
	name := filepath.Join(s.dir, fmt.Sprintf("%s-%s.spill", s.id, uuid.NewString()))
	f, err := os.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create spill file: %w", err)
	}
	if _, err := f.Write(s.buf.Bytes()); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return fmt.Errorf("write spill file: %w", err)
	}
	s.buf = bytes.Buffer{}
	s.file = f
	return nil
}

// spilled reports whether the content lives in a file.
func (s *spool) spilled() bool {
	return s.file != nil
}

// finish closes the spill file and returns the in-memory bytes or the path.
func (s *spool) finish() (data []byte, path string, err error) {
	if s.file == nil {
		return s.buf.Bytes(), "", nil
	}
	path = s.file.Name()
	if err := s.file.Close(); err != nil {
		_ = os.Remove(path)
		return nil, "", fmt.Errorf("close spill file: %w", err)
	}
	s.file = nil
	return nil, path, nil
}

// discard drops whatever was written.
func (s *spool) discard() {
	s.buf = bytes.Buffer{}
	if s.file != nil {
		name := s.file.Name()
		_ = s.file.Close()
		_ = os.Remove(name)
		s.file = nil
	}
}
