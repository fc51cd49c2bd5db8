package pifs

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "pifs"

// Collector exposes free-space, to-be-released, and wear-leveling
// gauges for a mounted FS as a Prometheus collector, the way
// talyz-systemd_exporter's systemd.Collector exposes unit state:
// fixed *prometheus.Desc fields built once, populated on every scrape
// inside Collect.
type Collector struct {
	fs *FS

	dataFreePages  *prometheus.Desc
	dataTBRPages   *prometheus.Desc
	mgmtFreePages  *prometheus.Desc
	mgmtTBRPages   *prometheus.Desc
	blockWearCount *prometheus.Desc
	checkErrors    *prometheus.Desc
}

// NewCollector wraps fs for scraping; fs must already be mounted.
func NewCollector(fs *FS) *Collector {
	return &Collector{
		fs: fs,
		dataFreePages: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "", "data_free_pages"),
			"Free logical pages in the data region.", nil, nil,
		),
		dataTBRPages: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "", "data_to_be_released_pages"),
			"Logical pages in the data region awaiting reclamation at the next merge.", nil, nil,
		),
		mgmtFreePages: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "", "management_free_pages"),
			"Free logical pages in the active management area.", nil, nil,
		),
		mgmtTBRPages: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "", "management_to_be_released_pages"),
			"Logical pages in the active management area awaiting reclamation.", nil, nil,
		),
		blockWearCount: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "", "block_wear_count"),
			"Effective erase count per block.", []string{"block"}, nil,
		),
		checkErrors: prometheus.NewDesc(
			prometheus.BuildFQName(metricsNamespace, "", "check_errors_total"),
			"Inconsistencies found by the consistency checker across this process's lifetime.", nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.dataFreePages
	ch <- c.dataTBRPages
	ch <- c.mgmtFreePages
	ch <- c.mgmtTBRPages
	ch <- c.blockWearCount
	ch <- c.checkErrors
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.fs.mu.Lock()
	mgmtFree, dataFree, mgmtTBR, dataTBR, err := c.fs.fsbm.CountFreeAndTBR(c.fs.blockKind)
	errCount := c.fs.errors
	var ranked []blockWear
	if err == nil {
		ranked, err = c.fs.wear.Ranked()
	}
	c.fs.mu.Unlock()
	if err != nil {
		c.fs.log.warning("metrics collection failed: %v", err)
		return
	}

	ch <- prometheus.MustNewConstMetric(c.dataFreePages, prometheus.GaugeValue, float64(dataFree))
	ch <- prometheus.MustNewConstMetric(c.dataTBRPages, prometheus.GaugeValue, float64(dataTBR))
	ch <- prometheus.MustNewConstMetric(c.mgmtFreePages, prometheus.GaugeValue, float64(mgmtFree))
	ch <- prometheus.MustNewConstMetric(c.mgmtTBRPages, prometheus.GaugeValue, float64(mgmtTBR))
	ch <- prometheus.MustNewConstMetric(c.checkErrors, prometheus.GaugeValue, float64(errCount))
	for _, bw := range ranked {
		ch <- prometheus.MustNewConstMetric(c.blockWearCount, prometheus.GaugeValue, float64(bw.Wear), strconv.Itoa(int(bw.Block)))
	}
}
