// Package filestore appends records to a JSON array file, rewriting the closing bracket
// on every put so the file stays a valid document.
package filestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/phuslu/log"
	"nuha.dev/gpsforward/internal/store"
	"nuha.dev/gpsforward/internal/telemetry"
)

var errNotArray = errors.New("file is not a json array")

type Store struct {
	mu   sync.Mutex
	f    *os.File
	size int64
	log  log.Logger
}

// Open opens or creates the file at path. An existing file must end with "]".
func Open(path string) (*Store, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	o := &Store{f: f, size: st.Size()}
	o.log = log.DefaultLogger
	o.log.Context = log.NewContext(nil).Str("module", "filestore").Str("path", path).Value()

	if o.size > 0 {
		last := make([]byte, 1)
		if _, err := f.ReadAt(last, o.size-1); err != nil && err != io.EOF {
			f.Close()
			return nil, err
		}
		if last[0] != ']' {
			f.Close()
			return nil, fmt.Errorf("%s: %w", path, errNotArray)
		}
	}
	return o, nil
}

func (s *Store) Put(rec telemetry.Record, srvt time.Time) {
	b, err := json.MarshalIndent(store.NewMessage(rec, srvt), "", "  ")
	if err != nil {
		s.log.Error().Err(err).Msg("marshal error")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var buf []byte
	off := s.size
	if off == 0 {
		buf = append(buf, "[\n"...)
	} else {
		// overwrite the closing bracket
		off = off - 1
		buf = append(buf, ",\n"...)
	}
	buf = append(buf, b...)
	buf = append(buf, "\n]"...)
	n, err := s.f.WriteAt(buf, off)
	if err != nil {
		s.log.Error().Err(err).Msg("write error")
		return
	}
	s.size = off + int64(n)
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.f.Sync(); err != nil {
		s.f.Close()
		return err
	}
	return s.f.Close()
}
