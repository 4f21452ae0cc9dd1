package metrics

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/prometheus/common/expfmt"
)

// Result file names under Config.OutputDir.
const (
	RequestE2EFile  = "request_e2e_time.csv"
	BatchFile       = "batch_metrics.csv"
	AutoscalingFile = "autoscaling_events.csv"
	CostFile        = "cost_per_hour.json"
	PrometheusFile  = "metrics.prom"
)

// WriteResults writes every result file into Config.OutputDir, creating it if needed.
// Does nothing when OutputDir is empty.
func (s *Store) WriteResults(endTime float64) error {
	dir := s.config.OutputDir
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}

	cdf := s.E2ECDF()
	e2eRows := make([][]string, 0, len(cdf))
	for _, p := range cdf {
		e2eRows = append(e2eRows, []string{
			strconv.FormatInt(p.RequestID, 10),
			formatFloat(p.E2ETime),
			formatFloat(p.CDF),
		})
	}
	if err := writeCSV(filepath.Join(dir, RequestE2EFile), []string{"request_id", "request_e2e_time", "cdf"}, e2eRows); err != nil {
		return err
	}

	batchRows := make([][]string, 0, len(s.batches))
	for _, b := range s.batches {
		batchRows = append(batchRows, []string{
			formatFloat(b.Time),
			strconv.Itoa(b.ReplicaID),
			strconv.FormatInt(b.BatchID, 10),
			strconv.Itoa(b.Size),
			strconv.Itoa(b.NumTokens),
			formatFloat(b.ExecutionTime),
			formatFloat(b.MemoryUsagePercent),
		})
	}
	batchHeader := []string{"time", "replica_id", "batch_id", "batch_size", "num_tokens", "execution_time", "memory_usage_percent"}
	if err := writeCSV(filepath.Join(dir, BatchFile), batchHeader, batchRows); err != nil {
		return err
	}

	scalingRows := make([][]string, 0, len(s.autoscaling))
	for _, a := range s.autoscaling {
		scalingRows = append(scalingRows, []string{
			formatFloat(a.Time),
			strconv.Itoa(a.NumReplicas),
			formatFloat(a.CostPerHour),
		})
	}
	if err := writeCSV(filepath.Join(dir, AutoscalingFile), []string{"time", "num_replicas", "cost_per_hour"}, scalingRows); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s.Cost(endTime), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding cost metrics: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, CostFile), data, 0o644); err != nil {
		return fmt.Errorf("writing cost metrics: %w", err)
	}

	return s.writePrometheus(filepath.Join(dir, PrometheusFile))
}

// writePrometheus dumps the registry in the Prometheus text exposition format.
func (s *Store) writePrometheus(path string) (err error) {
	families, err := s.registry.Gather()
	if err != nil {
		return fmt.Errorf("gathering metrics: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() {
		if closeErr := f.Close(); err == nil && closeErr != nil {
			err = fmt.Errorf("closing %s: %w", path, closeErr)
		}
	}()
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(f, mf); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}
	return nil
}

func writeCSV(path string, header []string, rows [][]string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() {
		if closeErr := f.Close(); err == nil && closeErr != nil {
			err = fmt.Errorf("closing %s: %w", path, closeErr)
		}
	}()
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ReadE2ECDF loads request_e2e_time.csv from dir.
func ReadE2ECDF(dir string) (E2ECDF, error) {
	path := filepath.Join(dir, RequestE2EFile)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading request latency: %w", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("parsing %s: missing header", path)
	}
	cdf := make(E2ECDF, 0, len(records)-1)
	for i, rec := range records[1:] {
		if len(rec) != 3 {
			return nil, fmt.Errorf("parsing %s: row %d has %d columns, want 3", path, i+1, len(rec))
		}
		id, err := strconv.ParseInt(rec[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: row %d request_id: %w", path, i+1, err)
		}
		e2e, err := strconv.ParseFloat(rec[1], 64)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: row %d request_e2e_time: %w", path, i+1, err)
		}
		p, err := strconv.ParseFloat(rec[2], 64)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: row %d cdf: %w", path, i+1, err)
		}
		cdf = append(cdf, E2EPoint{RequestID: id, E2ETime: e2e, CDF: p})
	}
	return cdf, nil
}

// ReadCostMetrics loads cost_per_hour.json from dir.
func ReadCostMetrics(dir string) (CostMetrics, error) {
	var m CostMetrics
	data, err := os.ReadFile(filepath.Join(dir, CostFile))
	if err != nil {
		return m, fmt.Errorf("reading cost metrics: %w", err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parsing cost metrics: %w", err)
	}
	return m, nil
}
