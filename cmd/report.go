package cmd

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/elastic-sim/sim/metrics"
)

// reportPercentiles are the latency percentiles printed by the report command.
var reportPercentiles = []float64{50, 90, 95, 99}

// reportCmd summarizes the result files of a finished run
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print cost and latency percentiles from a run's result files",
	Run: func(cmd *cobra.Command, args []string) {
		if err := writeReport(outputDir, cmd.OutOrStdout()); err != nil {
			logrus.Fatalf("%v", err)
		}
	},
}

func writeReport(dir string, w io.Writer) error {
	cost, err := metrics.ReadCostMetrics(dir)
	if err != nil {
		return err
	}
	cdf, err := metrics.ReadE2ECDF(dir)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Cost per hour : $%.2f\n", cost.AverageCostPerHour)
	fmt.Fprintf(w, "Total cost    : $%.4f over %.1fs\n", cost.TotalCost, cost.Duration)
	fmt.Fprintf(w, "Peak replicas : %d\n", cost.PeakReplicas)
	fmt.Fprintf(w, "Requests      : %d\n", len(cdf))
	for _, p := range reportPercentiles {
		fmt.Fprintf(w, "E2E p%-3.0f      : %.3fs\n", p, cdf.Percentile(p))
	}
	return nil
}
