package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"logpipe/internal/diag"
	"logpipe/internal/pipeline"
	"logpipe/plugins/validator/oplog"
)

// EnvPrefix: 环境变量覆盖前缀。
const EnvPrefix = "LOGPIPE_"

// Defaults 返回带有安全默认值的 Config 雏形。
func Defaults() Config {
	return Config{
		ReadChunkSize: pipeline.DefaultReadChunkSize,
		MaxBufferSize: pipeline.DefaultMaxBufferSize,
		IOBufferSize:  pipeline.DefaultIOBufferSize,
		MaxAttempts:   pipeline.DefaultMaxAttempts,
		MaxFieldLen:   oplog.DefaultMaxFieldLen,
		RetryDelayMS:  int(pipeline.DefaultRetryDelay.Milliseconds()),
		Outputs:       Outputs{Valid: "test.csv", Invalid: "invalid_records.txt"},
		Logging: Logging{
			Level:      "info",
			Dir:        diag.DefaultLogDir,
			MaxSizeMB:  diag.DefaultLogMaxBytes >> 20,
			MaxBackups: diag.DefaultLogMaxBackups,
		},
		Components: Components{
			Reader:  "fs",
			Decoder: "text",
			Writer:  "fs",
		},
		Options: Options{
			Writer: json.RawMessage(`{"output_dir":"."}`),
		},
	}
}

// LoadJSON 从文件路径或原始 JSON 解析 Config（严格拒绝未知字段）。
func LoadJSON(path string, raw []byte) (Config, error) {
	cfg := Config{RetryDelayMS: -1}
	var r io.Reader
	switch {
	case len(raw) > 0:
		r = bytes.NewReader(raw)
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			return cfg, err
		}
		defer f.Close()
		r = f
	default:
		return cfg, errors.New("no config source provided")
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadYAML 解析 YAML 配置：先转为 JSON，再走与 LoadJSON 相同的严格解码。
func LoadYAML(raw []byte) (Config, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Config{}, fmt.Errorf("yaml: %w", err)
	}
	if doc == nil {
		return Config{}, errors.New("yaml: empty document")
	}
	if _, ok := doc.(map[string]any); !ok {
		return Config{}, fmt.Errorf("yaml: top level must be a mapping, got %T", doc)
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return Config{}, fmt.Errorf("yaml: %w", err)
	}
	return LoadJSON("", b)
}

// LoadFile 按扩展名选择解析器：.yaml/.yml 使用 YAML，其余按 JSON。
func LoadFile(path string) (Config, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		return LoadYAML(raw)
	default:
		return LoadJSON(path, nil)
	}
}

// LoadDotEnv 读取 .env 并注入进程环境；不存在时忽略，不覆盖已有变量。
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

// Merge 按优先级合并（后者覆盖前者）。
// 仅标量/字符串/原样 JSON 为“替换”；不做深度合并。
func Merge(base, over Config) Config {
	out := base
	if over.ReadChunkSize != 0 {
		out.ReadChunkSize = over.ReadChunkSize
	}
	if over.MaxBufferSize != 0 {
		out.MaxBufferSize = over.MaxBufferSize
	}
	if over.IOBufferSize != 0 {
		out.IOBufferSize = over.IOBufferSize
	}
	if over.MaxAttempts != 0 {
		out.MaxAttempts = over.MaxAttempts
	}
	if over.MaxFieldLen != 0 {
		out.MaxFieldLen = over.MaxFieldLen
	}
	if tz := strings.TrimSpace(over.TimeZone); tz != "" {
		out.TimeZone = tz
	}
	// 特殊：RetryDelayMS 的 0 具有语义（立即重试），-1 视为未覆盖。
	if over.RetryDelayMS >= 0 {
		out.RetryDelayMS = over.RetryDelayMS
	}
	if over.ReadRateLimit != 0 {
		out.ReadRateLimit = over.ReadRateLimit
	}
	if over.ReadRateBurst != 0 {
		out.ReadRateBurst = over.ReadRateBurst
	}
	if v := strings.TrimSpace(over.Outputs.Valid); v != "" {
		out.Outputs.Valid = v
	}
	if v := strings.TrimSpace(over.Outputs.Invalid); v != "" {
		out.Outputs.Invalid = v
	}
	if strings.TrimSpace(over.Logging.Level) != "" {
		out.Logging.Level = strings.TrimSpace(over.Logging.Level)
	}
	if d := strings.TrimSpace(over.Logging.Dir); d != "" {
		out.Logging.Dir = d
	}
	if over.Logging.MaxSizeMB != 0 {
		out.Logging.MaxSizeMB = over.Logging.MaxSizeMB
	}
	if over.Logging.MaxBackups != 0 {
		out.Logging.MaxBackups = over.Logging.MaxBackups
	}
	if strings.TrimSpace(over.Metrics.Listen) != "" {
		out.Metrics.Listen = strings.TrimSpace(over.Metrics.Listen)
	}

	// 组件名（空不覆盖）
	if over.Components.Reader != "" {
		out.Components.Reader = over.Components.Reader
	}
	if over.Components.Decoder != "" {
		out.Components.Decoder = over.Components.Decoder
	}
	if over.Components.Writer != "" {
		out.Components.Writer = over.Components.Writer
	}

	// Options（完整替换对应键）
	if len(over.Options.Reader) > 0 {
		out.Options.Reader = cloneRaw(over.Options.Reader)
	}
	if len(over.Options.Decoder) > 0 {
		out.Options.Decoder = cloneRaw(over.Options.Decoder)
	}
	if len(over.Options.Writer) > 0 {
		out.Options.Writer = cloneRaw(over.Options.Writer)
	}
	return out
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合）。
// 规则：前缀 LOGPIPE_；集合之外的键忽略；数值无法解析时报错。
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	// -1 表示未设置，以便 Merge 能区分“未覆盖”和“显式设置为 0”。
	over.RetryDelayMS = -1
	ints := map[string]*int{
		"READ_CHUNK_SIZE": &over.ReadChunkSize,
		"MAX_BUFFER_SIZE": &over.MaxBufferSize,
		"IO_BUFFER_SIZE":  &over.IOBufferSize,
		"MAX_ATTEMPTS":    &over.MaxAttempts,
		"MAX_FIELD_LEN":   &over.MaxFieldLen,
		"RETRY_DELAY_MS":  &over.RetryDelayMS,
		"READ_RATE_LIMIT": &over.ReadRateLimit,
		"READ_RATE_BURST": &over.ReadRateBurst,
		"LOG_MAX_SIZE_MB": &over.Logging.MaxSizeMB,
		"LOG_MAX_BACKUPS": &over.Logging.MaxBackups,
	}
	strs := map[string]*string{
		"TIME_ZONE":          &over.TimeZone,
		"OUTPUTS_VALID":      &over.Outputs.Valid,
		"OUTPUTS_INVALID":    &over.Outputs.Invalid,
		"LOG_LEVEL":          &over.Logging.Level,
		"LOG_DIR":            &over.Logging.Dir,
		"METRICS_LISTEN":     &over.Metrics.Listen,
		"COMPONENTS_READER":  &over.Components.Reader,
		"COMPONENTS_DECODER": &over.Components.Decoder,
		"COMPONENTS_WRITER":  &over.Components.Writer,
	}
	raws := map[string]*json.RawMessage{
		"OPTIONS_READER_JSON":  &over.Options.Reader,
		"OPTIONS_DECODER_JSON": &over.Options.Decoder,
		"OPTIONS_WRITER_JSON":  &over.Options.Writer,
	}
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		nk, val := kv[len(EnvPrefix):eq], kv[eq+1:]
		if strings.TrimSpace(val) == "" {
			// 空值视为未设置，避免清空配置文件中的值
			continue
		}
		if p, ok := ints[nk]; ok {
			v, err := atoi(val)
			if err != nil {
				return over, fmt.Errorf("env %s%s: %w", EnvPrefix, nk, err)
			}
			*p = v
			continue
		}
		if p, ok := strs[nk]; ok {
			*p = strings.TrimSpace(val)
			continue
		}
		if p, ok := raws[nk]; ok {
			if !json.Valid([]byte(val)) {
				return over, fmt.Errorf("env %s%s: invalid json", EnvPrefix, nk)
			}
			*p = json.RawMessage(val)
		}
	}
	return over, nil
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func atoi(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &n)
	if err != nil {
		return 0, err
	}
	return n, nil
}
