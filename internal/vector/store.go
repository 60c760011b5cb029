package vector

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
)

// FileStore persists one index blob per namespace under a directory. The
// namespace is the stringified owner user ID; blobs never cross namespaces.
//
// Blob format: dimension (uint32), count (uint32), then per entry:
// id (int64), vector (dimension * float32), all little-endian.
type FileStore struct {
	dir string
}

// NewFileStore creates a store rooted at dir. The directory is created on
// first Save, not here.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Path returns the blob path for a namespace.
func (s *FileStore) Path(namespace string) string {
	return filepath.Join(s.dir, namespace+".index")
}

// Load reads the persisted index for namespace. Returns ok=false when no blob
// exists yet; that is not an error.
func (s *FileStore) Load(namespace string) (*Flat, bool, error) {
	f, err := os.Open(s.Path(namespace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("open index blob: %w", err)
	}
	defer f.Close()

	var dim, n uint32
	if err := binary.Read(f, binary.LittleEndian, &dim); err != nil {
		return nil, false, fmt.Errorf("read dimension: %w", err)
	}
	if err := binary.Read(f, binary.LittleEndian, &n); err != nil {
		return nil, false, fmt.Errorf("read count: %w", err)
	}
	idx := newFlatWithDimension(int(dim))
	buf := make([]byte, int(dim)*4)
	for i := uint32(0); i < n; i++ {
		var id int64
		if err := binary.Read(f, binary.LittleEndian, &id); err != nil {
			return nil, false, fmt.Errorf("read id: %w", err)
		}
		if _, err := io.ReadFull(f, buf); err != nil {
			return nil, false, fmt.Errorf("read vector: %w", err)
		}
		idx.entries[id] = bytesToFloat32Slice(buf)
	}
	return idx, true, nil
}

// Save durably overwrites the namespace's blob. Written to a temp file and
// renamed so a crash mid-write never leaves a truncated blob behind.
func (s *FileStore) Save(namespace string, idx *Flat) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	path := s.Path(namespace)
	tmp, err := os.CreateTemp(s.dir, namespace+".index.tmp-*")
	if err != nil {
		return fmt.Errorf("create temp blob: %w", err)
	}
	defer os.Remove(tmp.Name())

	idx.mu.RLock()
	err = writeBlob(tmp, idx)
	idx.mu.RUnlock()
	if err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace index blob: %w", err)
	}
	return nil
}

func writeBlob(w io.Writer, idx *Flat) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(idx.dimension)); err != nil {
		return fmt.Errorf("write dimension: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(idx.entries))); err != nil {
		return fmt.Errorf("write count: %w", err)
	}
	for _, id := range idx.ids() {
		if err := binary.Write(w, binary.LittleEndian, id); err != nil {
			return fmt.Errorf("write id: %w", err)
		}
		if _, err := w.Write(float32SliceToBytes(idx.entries[id])); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}
	return nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
