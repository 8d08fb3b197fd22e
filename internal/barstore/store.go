// Package barstore owns the memory-mapped bar file and its companion
// index: the zero-copy data layer described in spec §4.1. Reads are O(1)
// or O(log n) and never copy a bar out of mapped memory.
package barstore

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/atlas-quant/backtest-engine/pkg/types"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// barMagic is the fixed 8-byte header every bar file must start with.
var barMagic = [8]byte{'B', 'A', 'R', 'S', '0', '0', '0', '1'}

// SeekNotFound is the sentinel ordinal SeekByTime returns when the
// requested timestamp falls outside the store's range.
const SeekNotFound = ^uint64(0)

// Store is a read-only view over one symbol's mmap'd bar file plus its
// loaded index. It is constructed once per (symbol, file) and shared
// read-only across every trial that touches the symbol.
type Store struct {
	logger *zap.Logger
	symbol string
	path   string

	file *os.File
	data []byte // mmap'd region, header + records
	n    uint64

	index *Index
}

// Open memory-maps path and loads the companion .idx file (path with the
// extension swapped). Both files must be present and well-formed or Open
// fails with an IoError.
func Open(logger *zap.Logger, symbol, path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &types.IoError{Path: path, Err: err}
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, &types.IoError{Path: path, Err: err}
	}
	size := info.Size()
	if size < int64(len(barMagic)) {
		f.Close()
		return nil, &types.IoError{Path: path, Err: fmt.Errorf("file too small to carry a header")}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, &types.IoError{Path: path, Err: fmt.Errorf("mmap: %w", err)}
	}

	var magic [8]byte
	copy(magic[:], data[:8])
	if magic != barMagic {
		unix.Munmap(data)
		f.Close()
		return nil, &types.IoError{Path: path, Err: fmt.Errorf("bad magic header")}
	}

	payload := size - int64(len(barMagic))
	if payload%types.BarRecordSize != 0 {
		unix.Munmap(data)
		f.Close()
		return nil, &types.IoError{Path: path, Err: fmt.Errorf("record-misaligned file: payload %d not a multiple of %d", payload, types.BarRecordSize)}
	}
	n := uint64(payload / types.BarRecordSize)

	idxPath := indexPathFor(path)
	index, err := LoadIndex(idxPath)
	if err != nil {
		unix.Munmap(data)
		f.Close()
		return nil, err
	}

	s := &Store{
		logger: logger,
		symbol: symbol,
		path:   path,
		file:   f,
		data:   data,
		n:      n,
		index:  index,
	}
	if logger != nil {
		logger.Debug("opened bar store", zap.String("symbol", symbol), zap.String("path", path), zap.Uint64("bars", n))
	}
	return s, nil
}

// Close unmaps the bar file and releases the file handle.
func (s *Store) Close() error {
	if s.data != nil {
		unix.Munmap(s.data)
		s.data = nil
	}
	return s.file.Close()
}

// Len reports the number of bars in the store.
func (s *Store) Len() uint64 { return s.n }

// Symbol reports the symbol this store serves.
func (s *Store) Symbol() string { return s.symbol }

// Index exposes the loaded companion index (for the resampler).
func (s *Store) Index() *Index { return s.index }

// BarAt decodes the record at ordinal directly out of mapped memory. No
// allocation beyond the returned value, no copy of the backing bytes.
func (s *Store) BarAt(ordinal uint64) (types.Bar, error) {
	if ordinal >= s.n {
		return types.Bar{}, &types.RuntimeError{Detail: fmt.Sprintf("bar ordinal %d out of range (len=%d)", ordinal, s.n)}
	}
	off := 8 + ordinal*types.BarRecordSize
	rec := s.data[off : off+types.BarRecordSize]

	nanos := int64(binary.LittleEndian.Uint64(rec[0:8]))
	open := math.Float64frombits(binary.LittleEndian.Uint64(rec[8:16]))
	high := math.Float64frombits(binary.LittleEndian.Uint64(rec[16:24]))
	low := math.Float64frombits(binary.LittleEndian.Uint64(rec[24:32]))
	closeP := math.Float64frombits(binary.LittleEndian.Uint64(rec[32:40]))
	volume := binary.LittleEndian.Uint64(rec[40:48])

	bar := types.Bar{
		Timestamp: time.Unix(0, nanos).UTC(),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closeP,
		Volume:    volume,
	}
	if math.IsNaN(open) || math.IsNaN(high) || math.IsNaN(low) || math.IsNaN(closeP) {
		return types.Bar{}, &types.RuntimeError{Detail: fmt.Sprintf("NaN OHLC at ordinal %d", ordinal)}
	}
	return bar, nil
}

// SeekByTime returns the lower-bound ordinal for ts: the smallest ordinal
// whose bar timestamp is >= ts. Returns SeekNotFound if ts is after the
// store's last bar.
func (s *Store) SeekByTime(ts time.Time) uint64 {
	return s.index.SeekByTime(ts)
}

// DailyRange returns the [first, last] ordinal range for the session date
// (UTC) matching date, and whether that date has any bars.
func (s *Store) DailyRange(date time.Time) (first, last uint64, ok bool) {
	return s.index.DailyRange(date)
}

func indexPathFor(barPath string) string {
	for i := len(barPath) - 1; i >= 0; i-- {
		if barPath[i] == '.' {
			return barPath[:i] + ".idx"
		}
		if barPath[i] == '/' {
			break
		}
	}
	return barPath + ".idx"
}
