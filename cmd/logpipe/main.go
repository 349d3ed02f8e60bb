package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	cfgpkg "logpipe/internal/config"
	"logpipe/internal/diag"
	"logpipe/internal/pipeline"
)

var sessionRun = func(ctx context.Context, s *pipeline.Session) (pipeline.Result, error) {
	return s.Run(ctx)
}

// 简化的 CLI：logpipe [flags] [input]
// 位置参数 input 设置 fs reader 的 path（"-" 表示 STDIN）。
// 全局旗标：--config, --source, --max-attempts, --metrics, --init-config, --status
func main() {
	os.Exit(run())
}

func run() int {
	start := time.Now()
	corrID := uuid.NewString()
	// 在任何 ENV 读取前加载工作目录下的 .env（不覆盖已有 ENV）。
	if err := cfgpkg.LoadDotEnv(".env"); err != nil {
		fprintf(os.Stderr, "提示：.env 读取失败（已跳过）：%v\n", err)
	}
	logLevel := "info"
	// 先占位默认，合并配置后按最终 level 重建
	logger := diag.NewLogger(corrID, logLevel)
	defer func() { _ = logger.Close() }()

	var (
		flagConfig      string
		flagSource      string
		flagMaxAttempts int
		flagMetrics     string
		flagInitDir     string
		flagStatus      bool
	)
	flag.StringVar(&flagConfig, "config", "", "配置文件路径（.json/.yaml）；缺省读取 ./config.json 或 ./config.yaml（若存在）")
	flag.StringVar(&flagSource, "source", "", "输入组件名（fs|ssh|kafka|flaky，覆盖配置）")
	flag.IntVar(&flagMaxAttempts, "max-attempts", 0, "最大尝试次数（覆盖配置）")
	flag.StringVar(&flagMetrics, "metrics", "", "Prometheus 指标监听地址，如 :9090（覆盖配置）")
	flag.StringVar(&flagInitDir, "init-config", "", "在指定目录生成默认配置 config.json 和 .env 模板（不覆盖已有 config.json）；不带值时默认当前目录")
	flag.BoolVar(&flagStatus, "status", true, "终端状态提示（stderr）。TTY 动态刷新；非 TTY 打点输出")
	normalizeInitArg()
	if err := flag.CommandLine.Parse(os.Args[1:]); err != nil {
		return 3
	}
	args := flag.Args()

	// --init-config: 生成模板并退出
	if initDir := strings.TrimSpace(flagInitDir); initDir != "" {
		if err := os.MkdirAll(initDir, 0o755); err != nil {
			fprintf(os.Stderr, "生成默认配置失败: %v\n", err)
			logger.Error("cli", string(diag.Classify(err)), "init config", &start)
			return 3
		}
		if err := writeConfig(filepath.Join(initDir, "config.json"), cfgpkg.DefaultTemplateConfig()); err != nil {
			fprintf(os.Stderr, "生成默认配置失败: %v\n", err)
			logger.Error("cli", string(diag.Classify(err)), "init config", &start)
			return 3
		}
		if err := writeDotEnv(filepath.Join(initDir, ".env")); err != nil {
			fprintf(os.Stderr, "提示：.env 生成失败（已跳过）：%v\n", err)
		}
		return 0
	}
	if len(args) > 1 {
		fprintf(os.Stderr, "最多一个输入参数，实得 %d 个\n", len(args))
		return 3
	}

	// 配置来源：文件或 ENV: LOGPIPE_CONFIG_JSON
	var cfgJSON []byte
	if s := os.Getenv(cfgpkg.EnvPrefix + "CONFIG_JSON"); s != "" {
		cfgJSON = []byte(s)
	}
	if flagConfig == "" {
		flagConfig = os.Getenv(cfgpkg.EnvPrefix + "CONFIG_FILE")
	}
	if flagConfig == "" && len(cfgJSON) == 0 {
		for _, p := range []string{"config.json", "config.yaml", "config.yml"} {
			if _, err := os.Stat(p); err == nil {
				flagConfig = p
				break
			}
		}
	}

	cfg := cfgpkg.Defaults()
	if flagConfig != "" || len(cfgJSON) > 0 {
		var (
			base cfgpkg.Config
			err  error
		)
		if len(cfgJSON) > 0 {
			base, err = cfgpkg.LoadJSON("", cfgJSON)
		} else {
			base, err = cfgpkg.LoadFile(flagConfig)
		}
		if err != nil {
			fprintf(os.Stderr, "配置解析失败: %v\n", err)
			logger.Error("cli", string(diag.Classify(err)), "load config", &start)
			return 3
		}
		cfg = cfgpkg.Merge(cfg, base)
	}

	overEnv, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		fprintf(os.Stderr, "环境变量解析失败: %v\n", err)
		logger.Error("cli", string(diag.Classify(err)), "env overlay", &start)
		return 3
	}
	cfg = cfgpkg.Merge(cfg, overEnv)

	// CLI 覆盖
	overCLI := cfgpkg.Config{RetryDelayMS: -1}
	overCLI.Components.Reader = strings.TrimSpace(flagSource)
	overCLI.MaxAttempts = flagMaxAttempts
	overCLI.Metrics.Listen = flagMetrics
	if len(args) == 1 {
		// 位置参数只对 fs reader 有意义
		reader := cfg.Components.Reader
		if overCLI.Components.Reader != "" {
			reader = overCLI.Components.Reader
		}
		if reader != "fs" {
			fprintf(os.Stderr, "输入参数仅适用于 fs reader，当前为 %s\n", reader)
			return 3
		}
		b, _ := json.Marshal(map[string]string{"path": args[0]})
		overCLI.Options.Reader = b
	}
	cfg = cfgpkg.Merge(cfg, overCLI)

	if err := cfgpkg.Validate(cfg); err != nil {
		fprintf(os.Stderr, "配置校验失败: %v\n", err)
		_ = dumpConfig(cfg)
		logger.Error("cli", string(diag.Classify(err)), "validate config", &start)
		return 3
	}

	if lv := strings.TrimSpace(cfg.Logging.Level); lv != "" {
		logLevel = lv
	}
	_ = logger.Close()
	logger = diag.NewLoggerWith(cfgpkg.LogOptions(cfg), corrID, logLevel)

	if err := preflightCheckOutputDir(cfg); err != nil {
		fprintf(os.Stderr, "输出目录不可写或无法创建: %v\n", err)
		logger.Error("cli", string(diag.Classify(err)), "preflight", &start)
		return 3
	}

	sess, err := cfgpkg.Assemble(cfg, logger)
	if err != nil {
		fprintf(os.Stderr, "装配失败: %v\n", err)
		logger.Error("cli", string(diag.Classify(err)), "assemble", &start)
		return 3
	}

	ms, err := diag.ServeMetrics(cfg.Metrics.Listen)
	if err != nil {
		fprintf(os.Stderr, "指标服务启动失败: %v\n", err)
		logger.Error("cli", string(diag.Classify(err)), "metrics", &start)
		return 3
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = ms.Shutdown(ctx)
	}()

	term := diag.NewTerminal(os.Stderr, flagStatus)
	diag.SetTerminal(term)
	defer diag.SetTerminal(nil)

	logger.DebugStart("config", "effective", string(sess.StreamID()), "", map[string]string{
		"reader":          cfg.Components.Reader,
		"decoder":         cfg.Components.Decoder,
		"writer":          cfg.Components.Writer,
		"read_chunk_size": fmt.Sprintf("%d", cfg.ReadChunkSize),
		"max_buffer_size": fmt.Sprintf("%d", cfg.MaxBufferSize),
		"io_buffer_size":  fmt.Sprintf("%d", cfg.IOBufferSize),
		"max_attempts":    fmt.Sprintf("%d", cfg.MaxAttempts),
		"metrics":         ms.Addr(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := sessionRun(ctx, sess)
	if err != nil {
		code := string(diag.Classify(err))
		logger.ErrorWithKV("cli", code, err.Error(), &start, string(sess.StreamID()), "",
			map[string]string{"attempts": fmt.Sprintf("%d", res.Attempts)})
		if !errors.Is(err, context.Canceled) {
			fprintf(os.Stderr, "运行失败: %v\n", err)
		}
		return 1
	}
	logger.InfoFinish("cli", "run", start, int64(res.Stats.Records))
	return 0
}

func fprintf(w *os.File, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

func dumpConfig(c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	_, _ = os.Stderr.Write(append([]byte("有效配置:\n"), b...))
	_, _ = os.Stderr.Write([]byte("\n"))
	return nil
}

func writeConfig(path string, c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if path == "-" {
		_, err = os.Stdout.Write(append(b, '\n'))
		return err
	}
	// 不覆盖已存在文件
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(b); err != nil {
		return err
	}
	_, _ = f.Write([]byte("\n"))
	return nil
}

// normalizeInitArg: 允许 --init-config 在未提供路径值时采用当前目录 "."。
//
//	--init-config                => 等价于 --init-config .
//	--init-config=out
//	--init-config out
func normalizeInitArg() {
	args := os.Args
	if len(args) <= 1 {
		return
	}
	out := make([]string, 0, len(args)+1)
	out = append(out, args[0])
	for i := 1; i < len(args); i++ {
		a := args[i]
		out = append(out, a)
		if a == "--init-config" || a == "-init-config" {
			if i == len(args)-1 || strings.HasPrefix(args[i+1], "-") {
				out = append(out, ".")
			}
		}
	}
	os.Args = out
}

// writeDotEnv 生成 .env 模板（已存在则跳过，不合并）。
func writeDotEnv(path string) error {
	if st, err := os.Stat(path); err == nil && !st.IsDir() {
		return nil
	} else if err != nil && !os.IsNotExist(err) {
		return err
	}
	p := cfgpkg.EnvPrefix
	var b strings.Builder
	b.WriteString("# logpipe .env 模板（由 --init-config 生成）\n")
	b.WriteString("# 优先级：CLI > ENV(.env) > 配置文件\n")
	b.WriteString("# 空值表示未设置。\n\n")

	b.WriteString("# 配置来源（可二选一）\n")
	for _, k := range []string{"CONFIG_FILE", "CONFIG_JSON"} {
		b.WriteString(p + k + "=\n")
	}
	b.WriteString("\n# 运行参数覆盖\n")
	for _, k := range []string{
		"READ_CHUNK_SIZE", "MAX_BUFFER_SIZE", "IO_BUFFER_SIZE", "MAX_ATTEMPTS", "MAX_FIELD_LEN",
		"RETRY_DELAY_MS", "READ_RATE_LIMIT", "READ_RATE_BURST", "TIME_ZONE",
		"OUTPUTS_VALID", "OUTPUTS_INVALID", "METRICS_LISTEN",
		"LOG_LEVEL", "LOG_DIR", "LOG_MAX_SIZE_MB", "LOG_MAX_BACKUPS",
	} {
		b.WriteString(p + k + "=\n")
	}
	b.WriteString("\n# 组件选择与选项（JSON）\n")
	for _, k := range []string{
		"COMPONENTS_READER", "COMPONENTS_DECODER", "COMPONENTS_WRITER",
		"OPTIONS_READER_JSON", "OPTIONS_DECODER_JSON", "OPTIONS_WRITER_JSON",
	} {
		b.WriteString(p + k + "=\n")
	}
	b.WriteString("\n# ssh reader 示例：\n# " + p + "COMPONENTS_READER=ssh\n# " + p + "OPTIONS_READER_JSON=" + cfgpkg.SSHReaderTemplate + "\n")
	b.WriteString("\n# ssh 口令（由 password_env 引用）\n" + p + "SSH_PASSWORD=\n")

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	_, err = f.WriteString(b.String())
	return err
}

// preflightCheckOutputDir: fs writer 启动前检查输出目录可写性。
// 目录存在时试写临时文件；不存在时检查父目录可写性。其他 writer 跳过。
func preflightCheckOutputDir(cfg cfgpkg.Config) error {
	name := strings.TrimSpace(cfg.Components.Writer)
	if name == "" {
		name = cfgpkg.Defaults().Components.Writer
	}
	if name != "fs" {
		return nil
	}
	var wopts struct {
		OutputDir string `json:"output_dir"`
	}
	if len(cfg.Options.Writer) > 0 {
		_ = json.Unmarshal(cfg.Options.Writer, &wopts)
	}
	dir := strings.TrimSpace(wopts.OutputDir)
	if dir == "" {
		// 交由装配阶段报错
		return nil
	}
	if st, err := os.Stat(dir); err == nil && st.IsDir() {
		f, err := os.CreateTemp(dir, ".wcheck-*")
		if err != nil {
			return err
		}
		name := f.Name()
		_ = f.Close()
		_ = os.Remove(name)
		return nil
	} else if err == nil {
		return fmt.Errorf("路径存在但不是目录: %s", dir)
	} else if !os.IsNotExist(err) {
		return err
	}
	parent := filepath.Dir(dir)
	if parent == "" || parent == dir {
		return fmt.Errorf("无法确定父目录: %s", dir)
	}
	pst, err := os.Stat(parent)
	if err != nil {
		return err
	}
	if !pst.IsDir() {
		return fmt.Errorf("父路径不是目录: %s", parent)
	}
	tmpd, err := os.MkdirTemp(parent, ".wcheck-*")
	if err != nil {
		return err
	}
	_ = os.RemoveAll(tmpd)
	return nil
}
