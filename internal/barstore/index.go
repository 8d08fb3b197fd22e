package barstore

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/atlas-quant/backtest-engine/pkg/types"
)

// IndexVersion is the current on-disk format version. Readers reject
// anything else.
const IndexVersion = 1

// OrdinalRange is an inclusive [First, Last] ordinal span.
type OrdinalRange struct {
	First uint64
	Last  uint64
}

// timeIndexEntry is one (timestamp -> ordinal) binary-search entry.
type timeIndexEntry struct {
	UnixNanos int64
	Ordinal   uint64
}

// Index is the companion structure to a bar file: a time index for
// seek-by-time, daily partitions, and precomputed per-timeframe collapse
// ranges.
type Index struct {
	Version int

	timeIndex []timeIndexEntry // sorted by UnixNanos

	dailyDates  []int64 // UTC midnight unix seconds, sorted
	dailyRanges []OrdinalRange

	// TimeframeRanges[tf] is the ordered list of base-bar ordinal ranges
	// that each collapse to one resampled bar for timeframe tf.
	TimeframeRanges map[types.Timeframe][]OrdinalRange
}

// gobIndex is the serializable shape (Index keeps private fields gob
// cannot reach without exported names, so we mirror it for encode/decode).
type gobIndex struct {
	Version         int
	TimeIndex       []timeIndexEntry
	DailyDates      []int64
	DailyRanges     []OrdinalRange
	TimeframeRanges map[types.Timeframe][]OrdinalRange
}

// LoadIndex reads and validates a .idx file in full. Index files are
// small relative to their bar file and are read entirely into memory.
func LoadIndex(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &types.IoError{Path: path, Err: err}
	}
	defer f.Close()

	var g gobIndex
	dec := gob.NewDecoder(bufio.NewReader(f))
	if err := dec.Decode(&g); err != nil {
		return nil, &types.IoError{Path: path, Err: fmt.Errorf("decode index: %w", err)}
	}
	if g.Version != IndexVersion {
		return nil, &types.IoError{Path: path, Err: fmt.Errorf("unsupported index version %d (want %d)", g.Version, IndexVersion)}
	}

	idx := &Index{
		Version:         g.Version,
		timeIndex:       g.TimeIndex,
		dailyDates:      g.DailyDates,
		dailyRanges:     g.DailyRanges,
		TimeframeRanges: g.TimeframeRanges,
	}
	return idx, nil
}

// SaveIndex writes idx to path in the current format version. Used by
// tests and by the (out-of-scope) external bar-file generator's Go-side
// helper.
func SaveIndex(path string, idx *Index) error {
	f, err := os.Create(path)
	if err != nil {
		return &types.IoError{Path: path, Err: err}
	}
	defer f.Close()

	g := gobIndex{
		Version:         IndexVersion,
		TimeIndex:       idx.timeIndex,
		DailyDates:      idx.dailyDates,
		DailyRanges:     idx.dailyRanges,
		TimeframeRanges: idx.TimeframeRanges,
	}
	w := bufio.NewWriter(f)
	if err := gob.NewEncoder(w).Encode(g); err != nil {
		return &types.IoError{Path: path, Err: err}
	}
	return w.Flush()
}

// BuildIndex constructs an Index from an in-memory bar slice. Used by
// tests to fabricate fixtures without a real generator tool.
func BuildIndex(bars []types.Bar) (*Index, error) {
	idx := &Index{
		Version:         IndexVersion,
		TimeframeRanges: map[types.Timeframe][]OrdinalRange{},
	}

	idx.timeIndex = make([]timeIndexEntry, len(bars))
	for i, b := range bars {
		if i > 0 && !b.Timestamp.After(bars[i-1].Timestamp) {
			return nil, &types.RuntimeError{Detail: "non-monotonic timestamps while building index"}
		}
		idx.timeIndex[i] = timeIndexEntry{UnixNanos: b.Timestamp.UnixNano(), Ordinal: uint64(i)}
	}

	// Daily partitions.
	var curDate time.Time
	var curFirst uint64
	haveCur := false
	flush := func(lastOrdinal uint64) {
		if !haveCur {
			return
		}
		idx.dailyDates = append(idx.dailyDates, curDate.Unix())
		idx.dailyRanges = append(idx.dailyRanges, OrdinalRange{First: curFirst, Last: lastOrdinal})
	}
	for i, b := range bars {
		d := time.Date(b.Timestamp.Year(), b.Timestamp.Month(), b.Timestamp.Day(), 0, 0, 0, 0, time.UTC)
		if !haveCur || !d.Equal(curDate) {
			flush(uint64(i - 1))
			curDate = d
			curFirst = uint64(i)
			haveCur = true
		}
	}
	if len(bars) > 0 {
		flush(uint64(len(bars) - 1))
	}

	for _, tf := range types.SupportedTimeframes {
		ranges, err := timeframeRanges(bars, tf)
		if err != nil {
			return nil, err
		}
		idx.TimeframeRanges[tf] = ranges
	}

	return idx, nil
}

// SeekByTime is the lower-bound binary search over the time index: the
// smallest ordinal whose timestamp is >= ts.
func (idx *Index) SeekByTime(ts time.Time) uint64 {
	nanos := ts.UnixNano()
	i := sort.Search(len(idx.timeIndex), func(i int) bool {
		return idx.timeIndex[i].UnixNanos >= nanos
	})
	if i == len(idx.timeIndex) {
		return SeekNotFound
	}
	return idx.timeIndex[i].Ordinal
}

// DailyRange returns the ordinal span for date's UTC session, if any bars
// fall on it.
func (idx *Index) DailyRange(date time.Time) (first, last uint64, ok bool) {
	target := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC).Unix()
	i := sort.Search(len(idx.dailyDates), func(i int) bool { return idx.dailyDates[i] >= target })
	if i == len(idx.dailyDates) || idx.dailyDates[i] != target {
		return 0, 0, false
	}
	r := idx.dailyRanges[i]
	return r.First, r.Last, true
}

// timeframeRanges precomputes the ordinal ranges that collapse to one bar
// of timeframe tf, per the left-labeled bucketing rule in spec §4.2.
func timeframeRanges(bars []types.Bar, tf types.Timeframe) ([]OrdinalRange, error) {
	if len(bars) == 0 {
		return nil, nil
	}

	if tf == types.Timeframe1Day {
		var ranges []OrdinalRange
		var first int
		curDate := sessionDate(bars[0].Timestamp)
		for i := 1; i < len(bars); i++ {
			d := sessionDate(bars[i].Timestamp)
			if !d.Equal(curDate) {
				ranges = append(ranges, OrdinalRange{First: uint64(first), Last: uint64(i - 1)})
				first = i
				curDate = d
			}
		}
		ranges = append(ranges, OrdinalRange{First: uint64(first), Last: uint64(len(bars) - 1)})
		return ranges, nil
	}

	minutes, err := timeframeMinutes(tf)
	if err != nil {
		return nil, err
	}
	bucketWidth := time.Duration(minutes) * time.Minute

	var ranges []OrdinalRange
	first := 0
	bucketStart := bucketFloor(bars[0].Timestamp, bucketWidth)
	for i := 1; i < len(bars); i++ {
		if bars[i].Timestamp.Sub(bucketStart) >= bucketWidth {
			ranges = append(ranges, OrdinalRange{First: uint64(first), Last: uint64(i - 1)})
			first = i
			bucketStart = bucketFloor(bars[i].Timestamp, bucketWidth)
		}
	}
	ranges = append(ranges, OrdinalRange{First: uint64(first), Last: uint64(len(bars) - 1)})
	return ranges, nil
}

func sessionDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func bucketFloor(t time.Time, width time.Duration) time.Time {
	return t.Truncate(width)
}

func timeframeMinutes(tf types.Timeframe) (int, error) {
	switch tf {
	case types.Timeframe1Min:
		return 1, nil
	case types.Timeframe2Min:
		return 2, nil
	case types.Timeframe3Min:
		return 3, nil
	case types.Timeframe4Min:
		return 4, nil
	case types.Timeframe5Min:
		return 5, nil
	default:
		return 0, &types.ConfigError{Field: "timeframe", Reason: fmt.Sprintf("unsupported timeframe %q", tf)}
	}
}
