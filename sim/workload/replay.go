package workload

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/inference-sim/elastic-sim/sim"
)

// traceColumns are the required header fields of a request trace.
var traceColumns = []string{"arrived_at", "num_prefill_tokens", "num_decode_tokens"}

// LoadTraceCSV reads a request trace with the header
// arrived_at,num_prefill_tokens,num_decode_tokens (extra columns are ignored).
// Requests are returned sorted by arrival time with IDs in that order.
func LoadTraceCSV(path string) ([]*sim.Request, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading trace: %w", err)
	}
	defer f.Close()
	reqs, err := ParseTraceCSV(f)
	if err != nil {
		return nil, fmt.Errorf("parsing trace %s: %w", path, err)
	}
	return reqs, nil
}

// ParseTraceCSV reads a request trace from r. See LoadTraceCSV for the format.
func ParseTraceCSV(r io.Reader) ([]*sim.Request, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("empty trace")
	}
	if err != nil {
		return nil, err
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[name] = i
	}
	cols := make([]int, len(traceColumns))
	for i, name := range traceColumns {
		col, ok := index[name]
		if !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
		cols[i] = col
	}

	type row struct {
		arrivedAt       float64
		prefill, decode int
	}
	var rows []row
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		arrivedAt, err := strconv.ParseFloat(rec[cols[0]], 64)
		if err != nil || arrivedAt < 0 {
			return nil, fmt.Errorf("line %d: invalid arrived_at %q", line, rec[cols[0]])
		}
		prefill, err := strconv.Atoi(rec[cols[1]])
		if err != nil || prefill < 0 {
			return nil, fmt.Errorf("line %d: invalid num_prefill_tokens %q", line, rec[cols[1]])
		}
		decode, err := strconv.Atoi(rec[cols[2]])
		if err != nil || decode < 0 {
			return nil, fmt.Errorf("line %d: invalid num_decode_tokens %q", line, rec[cols[2]])
		}
		rows = append(rows, row{arrivedAt: arrivedAt, prefill: prefill, decode: decode})
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("trace has no requests")
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].arrivedAt < rows[j].arrivedAt })
	reqs := make([]*sim.Request, len(rows))
	for i, r := range rows {
		reqs[i] = sim.NewRequest(int64(i), r.arrivedAt, r.prefill, r.decode)
	}
	return reqs, nil
}
