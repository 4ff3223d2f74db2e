package main

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"shopkeep.ai/internal/persistence/mirror"
	"shopkeep.ai/internal/transport/ws"
)

var (
	serveAddr      string
	serveDisableDB bool
	serveSaveEvery int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve campaigns over websocket with prometheus metrics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger("server")
		ctx, cancel := signalContext()
		defer cancel()

		rt, err := openRuntime(ctx, runtimeOptions{
			ConfigDir: configDir,
			DataDir:   dataDir,
			DisableDB: serveDisableDB,
			SaveEvery: serveSaveEvery,
			Logger:    logger,
		})
		if err != nil {
			return err
		}
		defer rt.Close()

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		if rt.sinks.Mirror != nil {
			reg.MustRegister(mirrorCollector(rt.sinks.Mirror))
		}
		wsMetrics := ws.NewMetrics(reg)

		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
			rw.WriteHeader(http.StatusOK)
			_, _ = rw.Write([]byte("ok"))
		})
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		mux.HandleFunc("/v1/ws", ws.NewServer(rt.k, rt.sinks, wsMetrics, logger).Handler())

		srv := &http.Server{
			Addr:              serveAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			<-ctx.Done()
			ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel2()
			_ = srv.Shutdown(ctx2)
		}()

		logger.Printf("listening on %s config=%s", serveAddr, rt.reg.Digest())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	},
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveAddr, "addr", ":8080", "http listen address")
	f.BoolVar(&serveDisableDB, "disable-db", false, "skip the sqlite index")
	f.IntVar(&serveSaveEvery, "save-every", 7, "write a save every n days")
}

// mirrorCollector exposes the mirror queue counters.
func mirrorCollector(m *mirror.Mirror) prometheus.Collector {
	return &mirrorStats{
		m:        m,
		depth:    prometheus.NewDesc("shopsim_mirror_queue_depth", "Mirror operations waiting for a worker.", nil, nil),
		uploaded: prometheus.NewDesc("shopsim_mirror_ops_total", "Mirror operations by result.", []string{"result"}, nil),
	}
}

type mirrorStats struct {
	m        *mirror.Mirror
	depth    *prometheus.Desc
	uploaded *prometheus.Desc
}

func (c *mirrorStats) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.depth
	ch <- c.uploaded
}

func (c *mirrorStats) Collect(ch chan<- prometheus.Metric) {
	st := c.m.Stats()
	ch <- prometheus.MustNewConstMetric(c.depth, prometheus.GaugeValue, float64(st.QueueDepth))
	ch <- prometheus.MustNewConstMetric(c.uploaded, prometheus.CounterValue, float64(st.UploadSuccessTotal), "uploaded")
	ch <- prometheus.MustNewConstMetric(c.uploaded, prometheus.CounterValue, float64(st.DeleteSuccessTotal), "deleted")
	ch <- prometheus.MustNewConstMetric(c.uploaded, prometheus.CounterValue, float64(st.SupersededTotal), "superseded")
	ch <- prometheus.MustNewConstMetric(c.uploaded, prometheus.CounterValue, float64(st.FailTotal), "failed")
	ch <- prometheus.MustNewConstMetric(c.uploaded, prometheus.CounterValue, float64(st.DroppedTotal), "dropped")
}
