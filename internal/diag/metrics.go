package diag

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 指标集中注册到私有 Registry，避免与宿主进程的默认注册表冲突。
// - logpipe_op_total{comp,stage,result}
// - logpipe_error_total{comp,code}
// - logpipe_op_duration_ms{comp,stage}
// - logpipe_records_total{outcome}
// - logpipe_bytes_read_total
// - logpipe_flush_total{category}
// - logpipe_attempts_total{result}
var (
	registry = prometheus.NewRegistry()

	opTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "logpipe_op_total", Help: "Pipeline operations by component, stage and result"},
		[]string{"comp", "stage", "result"},
	)
	errorTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "logpipe_error_total", Help: "Errors by component and classified code"},
		[]string{"comp", "code"},
	)
	opDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "logpipe_op_duration_ms",
			Help:    "Stage duration in milliseconds",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		},
		[]string{"comp", "stage"},
	)
	recordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "logpipe_records_total", Help: "Validated records by outcome"},
		[]string{"outcome"},
	)
	bytesRead = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "logpipe_bytes_read_total", Help: "Raw bytes read from sources"},
	)
	flushTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "logpipe_flush_total", Help: "Sink flushes by output category"},
		[]string{"category"},
	)
	attemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "logpipe_attempts_total", Help: "Session attempts by result"},
		[]string{"result"},
	)
)

func init() {
	registry.MustRegister(opTotal, errorTotal, opDuration, recordsTotal, bytesRead, flushTotal, attemptsTotal)
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Registry 返回进程内指标注册表（测试与自定义导出使用）。
func Registry() *prometheus.Registry { return registry }

// IncOp 累加操作计数（result=success|error）。
func IncOp(comp, stage, result string) { opTotal.WithLabelValues(comp, stage, result).Inc() }

// IncError 按分类累加错误计数。
func IncError(comp, code string) { errorTotal.WithLabelValues(comp, code).Inc() }

// ObserveDuration 记录阶段耗时（毫秒）。
func ObserveDuration(comp, stage string, durMS int64) {
	opDuration.WithLabelValues(comp, stage).Observe(float64(durMS))
}

// AddRecords 按结果累加记录数（outcome=valid|invalid）。
func AddRecords(outcome string, n int) {
	if n > 0 {
		recordsTotal.WithLabelValues(outcome).Add(float64(n))
	}
}

// AddBytesRead 累加读取字节数。
func AddBytesRead(n int) {
	if n > 0 {
		bytesRead.Add(float64(n))
	}
}

// IncFlush 记录一次落盘（category=valid|invalid）。
func IncFlush(category string) { flushTotal.WithLabelValues(category).Inc() }

// IncAttempt 记录一次会话尝试（result=success|error）。
func IncAttempt(result string) { attemptsTotal.WithLabelValues(result).Inc() }

// MetricsServer 暴露 /metrics。
type MetricsServer struct {
	srv *http.Server
	ln  net.Listener
}

// ServeMetrics 在 addr 上监听并后台服务 /metrics；addr 为空返回 nil。
func ServeMetrics(addr string) (*MetricsServer, error) {
	if addr == "" {
		return nil, nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	ms := &MetricsServer{srv: &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}, ln: ln}
	go func() {
		if err := ms.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			IncError("metrics", string(CodeNetwork))
		}
	}()
	return ms, nil
}

// Addr 返回实际监听地址（addr 使用 :0 时有用）。
func (m *MetricsServer) Addr() string {
	if m == nil {
		return ""
	}
	return m.ln.Addr().String()
}

// Shutdown 优雅关闭。
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	return m.srv.Shutdown(ctx)
}
