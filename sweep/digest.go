package sweep

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// DigestRow condenses one benchmark's CSV.
type DigestRow struct {
	Labels []Label
	// AvgByteThroughput is the mean over batches of bytes per write second.
	AvgByteThroughput float64
	MaxArenaSize      int64
	MaxInUseSize      int64
	MaxMmapSize       int64
	// CloseTime is in seconds. HasCloseTime is false when the CSV had no
	// summary row.
	CloseTime    float64
	HasCloseTime bool
}

// Name joins the labels as dimension=variant pairs.
func (r DigestRow) Name() string {
	return labelName(r.Labels)
}

var digestColumns = []string{"name", "avg_byte_throughput", "max_arena_size", "max_in_use_size", "max_mmap_size", "close_time"}

// Digest parses a benchmark CSV. Batches with a zero write time do not count
// toward throughput; a CSV without data rows digests to zeros.
func Digest(labels []Label, data []byte) (DigestRow, error) {
	row := DigestRow{Labels: labels}

	r := csv.NewReader(bytes.NewReader(data))
	header, err := r.Read()
	if err != nil {
		return row, fmt.Errorf("failed to read CSV header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, name := range []string{"num_bytes", "write_ns", "arena_bytes", "in_use_bytes", "mmap_bytes", "close_ns"} {
		if _, ok := col[name]; !ok {
			return row, fmt.Errorf("CSV is missing column %s", name)
		}
	}

	var (
		throughputSum float64
		throughputN   int
		first         = true
	)
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return row, fmt.Errorf("failed to read CSV: %w", err)
		}

		if closeNs := rec[col["close_ns"]]; closeNs != "" {
			ns, err := strconv.ParseFloat(closeNs, 64)
			if err != nil {
				return row, fmt.Errorf("invalid close_ns %q: %w", closeNs, err)
			}
			row.CloseTime = ns / 1e9
			row.HasCloseTime = true
			continue
		}

		var v [5]int64
		for i, name := range []string{"num_bytes", "write_ns", "arena_bytes", "in_use_bytes", "mmap_bytes"} {
			if v[i], err = strconv.ParseInt(rec[col[name]], 10, 64); err != nil {
				return row, fmt.Errorf("invalid %s %q: %w", name, rec[col[name]], err)
			}
		}
		numBytes, writeNs, arena, inUse, mmap := v[0], v[1], v[2], v[3], v[4]

		if writeNs > 0 {
			throughputSum += float64(numBytes) / (float64(writeNs) / 1e9)
			throughputN++
		}
		if first || arena > row.MaxArenaSize {
			row.MaxArenaSize = arena
		}
		if first || inUse > row.MaxInUseSize {
			row.MaxInUseSize = inUse
		}
		if first || mmap > row.MaxMmapSize {
			row.MaxMmapSize = mmap
		}
		first = false
	}

	if throughputN > 0 {
		row.AvgByteThroughput = throughputSum / float64(throughputN)
	}
	return row, nil
}

// WriteDigest writes rows as CSV: one column per label dimension of the
// first row, then the digest columns.
func WriteDigest(w io.Writer, rows []DigestRow) error {
	if len(rows) == 0 {
		return nil
	}

	cw := csv.NewWriter(w)

	header := make([]string, 0, len(rows[0].Labels)+len(digestColumns))
	for _, l := range rows[0].Labels {
		header = append(header, l.Dimension)
	}
	header = append(header, digestColumns...)
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, r := range rows {
		rec := make([]string, 0, len(header))
		for _, l := range r.Labels {
			rec = append(rec, l.Variant)
		}
		closeTime := ""
		if r.HasCloseTime {
			closeTime = formatFloat(r.CloseTime)
		}
		rec = append(rec,
			r.Name(),
			formatFloat(r.AvgByteThroughput),
			strconv.FormatInt(r.MaxArenaSize, 10),
			strconv.FormatInt(r.MaxInUseSize, 10),
			strconv.FormatInt(r.MaxMmapSize, 10),
			closeTime,
		)
		if err := cw.Write(rec); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
