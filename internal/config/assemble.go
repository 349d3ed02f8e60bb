package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"logpipe/internal/diag"
	"logpipe/internal/pipeline"
	"logpipe/internal/rate"
	"logpipe/pkg/contract"
	"logpipe/pkg/registry"
	"logpipe/plugins/splitter/escape"
	"logpipe/plugins/validator/oplog"
)

func invalid(format string, a ...any) error {
	return fmt.Errorf("%w: config: %s", contract.ErrInvalidInput, fmt.Sprintf(format, a...))
}

// Validate 对最小必要边界做静态校验。
func Validate(cfg Config) error {
	if cfg.ReadChunkSize < 1 {
		return invalid("read_chunk_size must be >= 1")
	}
	if cfg.MaxBufferSize < 1 {
		return invalid("max_buffer_size must be >= 1")
	}
	if cfg.IOBufferSize < 1 {
		return invalid("io_buffer_size must be >= 1")
	}
	if cfg.MaxAttempts < 1 {
		return invalid("max_attempts must be >= 1")
	}
	if cfg.MaxFieldLen < 1 {
		return invalid("max_field_len must be >= 1")
	}
	if cfg.RetryDelayMS < 0 {
		return invalid("retry_delay_ms must be >= 0")
	}
	if cfg.ReadRateLimit < 0 || cfg.ReadRateBurst < 0 {
		return invalid("read_rate_limit/read_rate_burst must be >= 0")
	}
	if _, err := location(cfg.TimeZone); err != nil {
		return invalid("time_zone %q: %v", cfg.TimeZone, err)
	}
	v, iv := strings.TrimSpace(cfg.Outputs.Valid), strings.TrimSpace(cfg.Outputs.Invalid)
	if v == "" || iv == "" {
		return invalid("outputs.valid and outputs.invalid must be set")
	}
	if v == iv {
		return invalid("outputs.valid and outputs.invalid must differ")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "", "debug", "info", "warn", "error":
	default:
		return invalid("logging.level %q unknown", cfg.Logging.Level)
	}
	if cfg.Logging.MaxSizeMB < 1 {
		return invalid("logging.max_size_mb must be >= 1")
	}
	if cfg.Logging.MaxBackups < -1 {
		return invalid("logging.max_backups must be >= -1")
	}
	if l := strings.TrimSpace(cfg.Metrics.Listen); l != "" {
		if _, _, err := net.SplitHostPort(l); err != nil {
			return invalid("metrics.listen %q: %v", l, err)
		}
	}
	d := Defaults()
	if name := effName(cfg.Components.Reader, d.Components.Reader); registry.Reader[name] == nil {
		return invalid("reader %q not registered (have %v)", name, registry.Names(registry.Reader))
	}
	if name := effName(cfg.Components.Decoder, d.Components.Decoder); registry.Decoder[name] == nil {
		return invalid("decoder %q not registered (have %v)", name, registry.Names(registry.Decoder))
	}
	if name := effName(cfg.Components.Writer, d.Components.Writer); registry.Writer[name] == nil {
		return invalid("writer %q not registered (have %v)", name, registry.Names(registry.Writer))
	}
	return nil
}

// Assemble 校验配置并构造可运行的 Session。
// 严格 Options 解析在 registry （工厂）层进行；此处只传 raw JSON。
func Assemble(cfg Config, logger *diag.Logger) (*pipeline.Session, error) {
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	d := Defaults()
	rn := effName(cfg.Components.Reader, d.Components.Reader)
	dn := effName(cfg.Components.Decoder, d.Components.Decoder)
	wn := effName(cfg.Components.Writer, d.Components.Writer)

	src, err := registry.Reader[rn](cfg.Options.Reader)
	if err != nil {
		return nil, fmt.Errorf("reader %s: %w", rn, err)
	}
	dec, err := registry.Decoder[dn](cfg.Options.Decoder)
	if err != nil {
		return nil, fmt.Errorf("decoder %s: %w", dn, err)
	}
	w, err := registry.Writer[wn](cfg.Options.Writer)
	if err != nil {
		return nil, fmt.Errorf("writer %s: %w", wn, err)
	}
	loc, _ := location(cfg.TimeZone)

	return &pipeline.Session{
		Source:     src,
		Writer:     w,
		NewDecoder: dec.NewDecoder,
		Splitter:   escape.New(),
		Validator:  oplog.New(&oplog.Options{MaxFieldLen: cfg.MaxFieldLen, Location: loc}),
		Settings: pipeline.Settings{
			ReadChunkSize: cfg.ReadChunkSize,
			MaxBufferSize: cfg.MaxBufferSize,
			IOBufferSize:  cfg.IOBufferSize,
		},
		ValidName:   contract.ArtifactID(strings.TrimSpace(cfg.Outputs.Valid)),
		InvalidName: contract.ArtifactID(strings.TrimSpace(cfg.Outputs.Invalid)),
		MaxAttempts: cfg.MaxAttempts,
		RetryDelay:  time.Duration(cfg.RetryDelayMS) * time.Millisecond,
		RateLimit:   rate.Limits{BytesPerSec: cfg.ReadRateLimit, Burst: cfg.ReadRateBurst},
		Logger:      logger,
	}, nil
}

// LogOptions 将 logging 段转换为轮转选项；dir 为 "-" 时 Dir 为空（仅写 stderr）。
func LogOptions(cfg Config) diag.RotateOptions {
	dir := strings.TrimSpace(cfg.Logging.Dir)
	if dir == "-" {
		dir = ""
	}
	return diag.RotateOptions{
		Dir:        dir,
		MaxBytes:   int64(cfg.Logging.MaxSizeMB) << 20,
		MaxBackups: cfg.Logging.MaxBackups,
	}
}

// location: 空字符串为系统本地时区。
func location(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.Local, nil
	}
	return time.LoadLocation(name)
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}
