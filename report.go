package bench

import (
	"encoding/csv"
	"io"
	"strconv"
)

// CSVHeader is the first line of every report.
var CSVHeader = []string{
	"sqc", "num_bytes", "num_msgs", "write_ns",
	"arena_bytes", "in_use_bytes", "mmap_bytes", "close_ns",
}

// WriteCSV writes one row per record followed by a row carrying only the
// close duration.
func WriteCSV(w io.Writer, r *Result) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(CSVHeader); err != nil {
		return err
	}

	for _, rec := range r.Records {
		row := []string{
			strconv.FormatUint(uint64(rec.Sequence), 10),
			strconv.FormatInt(rec.Bytes, 10),
			strconv.Itoa(rec.Messages),
			strconv.FormatInt(rec.WriteDuration.Nanoseconds(), 10),
			strconv.FormatInt(rec.Delta.Arena, 10),
			strconv.FormatInt(rec.Delta.InUse, 10),
			strconv.FormatInt(rec.Delta.Mmap, 10),
			"",
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	summary := make([]string, len(CSVHeader))
	summary[len(summary)-1] = strconv.FormatInt(r.CloseDuration.Nanoseconds(), 10)
	if err := cw.Write(summary); err != nil {
		return err
	}

	cw.Flush()
	return cw.Error()
}
