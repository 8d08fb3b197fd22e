package barstore

import (
	"bufio"
	"encoding/binary"
	"math"
	"os"

	"github.com/atlas-quant/backtest-engine/pkg/types"
)

// WriteBarFile serializes bars to path in the store's on-disk layout and
// writes the matching .idx alongside it. This is a test/fixture helper,
// not the external bar-file generator tool (out of scope per spec §1) —
// it exists so package tests don't need a real generator binary.
func WriteBarFile(path string, bars []types.Bar) error {
	f, err := os.Create(path)
	if err != nil {
		return &types.IoError{Path: path, Err: err}
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if _, err := w.Write(barMagic[:]); err != nil {
		return err
	}
	rec := make([]byte, types.BarRecordSize)
	for _, b := range bars {
		binary.LittleEndian.PutUint64(rec[0:8], uint64(b.Timestamp.UnixNano()))
		binary.LittleEndian.PutUint64(rec[8:16], math.Float64bits(b.Open))
		binary.LittleEndian.PutUint64(rec[16:24], math.Float64bits(b.High))
		binary.LittleEndian.PutUint64(rec[24:32], math.Float64bits(b.Low))
		binary.LittleEndian.PutUint64(rec[32:40], math.Float64bits(b.Close))
		binary.LittleEndian.PutUint64(rec[40:48], b.Volume)
		if _, err := w.Write(rec); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	idx, err := BuildIndex(bars)
	if err != nil {
		return err
	}
	return SaveIndex(indexPathFor(path), idx)
}
