package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"syscall"

	"github.com/x448/float16"

	rgerrors "github.com/hybridrag/hybridrag/internal/errors"
)

// encodeRows packs float32 vectors into little-endian float16 rows.
func encodeRows(vectors [][]float32, dim int) ([]byte, error) {
	buf := make([]byte, 0, len(vectors)*dim*bytesPerValue)
	for _, vec := range vectors {
		if len(vec) != dim {
			return nil, rgerrors.ValidationError(
				fmt.Sprintf("vector dimension %d does not match store dimension %d", len(vec), dim), nil)
		}
		for _, v := range vec {
			buf = binary.LittleEndian.AppendUint16(buf, float16.Fromfloat32(v).Bits())
		}
	}
	return buf, nil
}

// decodeRows unpacks little-endian float16 rows into float32 vectors.
func decodeRows(data []byte, dim int) [][]float32 {
	rowWidth := dim * bytesPerValue
	rows := len(data) / rowWidth
	out := make([][]float32, rows)
	for r := 0; r < rows; r++ {
		vec := make([]float32, dim)
		base := r * rowWidth
		for c := 0; c < dim; c++ {
			bits := binary.LittleEndian.Uint16(data[base+c*bytesPerValue:])
			vec[c] = float16.Frombits(bits).Float32()
		}
		out[r] = vec
	}
	return out
}

// writeRowsAt writes encoded rows at the given row offset and syncs. Writing
// at a computed offset rather than appending means a torn tail from a crash
// is simply overwritten by the next batch.
func (s *Store) writeRowsAt(rowOffset int, data []byte) error {
	off := int64(rowOffset) * int64(s.opts.Dimensions) * bytesPerValue
	if _, err := s.matrix.WriteAt(data, off); err != nil {
		return diskError("failed to write vector rows", err)
	}
	if err := s.matrix.Sync(); err != nil {
		return diskError("failed to sync vector matrix", err)
	}
	return nil
}

// VectorBlock returns up to length decoded rows starting at row start.
// Requests past the end are clamped; a start beyond the end returns nil.
func (s *Store) VectorBlock(start, length int) ([][]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, rgerrors.InternalError("store is closed", nil)
	}
	if start < 0 || length <= 0 || start >= s.meta.Count {
		return nil, nil
	}
	if start+length > s.meta.Count {
		length = s.meta.Count - start
	}

	rowWidth := s.opts.Dimensions * bytesPerValue
	buf := make([]byte, length*rowWidth)
	if _, err := s.matrix.ReadAt(buf, int64(start)*int64(rowWidth)); err != nil {
		return nil, rgerrors.StoreCorruption("failed to read vector block", err).
			WithDetail("start", fmt.Sprintf("%d", start)).
			WithDetail("length", fmt.Sprintf("%d", length))
	}
	return decodeRows(buf, s.opts.Dimensions), nil
}

// diskError maps write failures to the disk-full code when the filesystem
// reports ENOSPC, otherwise to a generic index failure.
func diskError(msg string, err error) error {
	if errors.Is(err, syscall.ENOSPC) {
		return rgerrors.New(rgerrors.ErrCodeDiskFull, msg, err).
			WithRemedy("free disk space and re-run indexing; committed state is safe")
	}
	return rgerrors.New(rgerrors.ErrCodeIndexFailed, msg, err)
}
