package config

import (
	"encoding/json"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// JSON/YAML 使用 snake_case；未知字段在解析期失败。
type Config struct {
	// ReadChunkSize: 每次读取的字节数。
	ReadChunkSize int `json:"read_chunk_size"`
	// MaxBufferSize: 解码文本上限（字节），超过即强制切分。
	MaxBufferSize int `json:"max_buffer_size"`
	// IOBufferSize: 输出缓冲落盘阈值（字节）。
	IOBufferSize int `json:"io_buffer_size"`
	MaxAttempts  int `json:"max_attempts"`
	// MaxFieldLen: 操作人/操作内容的最大字符数（按 Unicode 码点计）。
	MaxFieldLen int `json:"max_field_len"`
	// TimeZone: 时间戳格式化时区（IANA 名称）；为空使用系统本地时区。
	TimeZone string `json:"time_zone"`
	// RetryDelayMS: 两次尝试之间的等待；0 有语义（立即重试），-1 表示未设置。
	RetryDelayMS int `json:"retry_delay_ms"`
	// ReadRateLimit/ReadRateBurst: 读取限速（字节/秒）；0 关闭。
	ReadRateLimit int `json:"read_rate_limit"`
	ReadRateBurst int `json:"read_rate_burst"`

	Outputs Outputs `json:"outputs"`
	Logging Logging `json:"logging"`
	Metrics Metrics `json:"metrics"`

	// 组件名选择（空则使用默认名）。
	Components Components `json:"components"`
	// 各组件 Options 子树，原样 JSON 传入工厂。
	Options Options `json:"options"`
}

// Outputs: 两类输出的工件名（相对 Writer 根目录）。
type Outputs struct {
	Valid   string `json:"valid"`
	Invalid string `json:"invalid"`
}

// Logging: 日志等级与轮转文件策略。
type Logging struct {
	Level string `json:"level"`
	// Dir: 日志目录；"-" 表示仅写 stderr。
	Dir string `json:"dir"`
	// MaxSizeMB: 活动文件上限（MiB）。
	MaxSizeMB int `json:"max_size_mb"`
	// MaxBackups: 保留的历史文件个数。
	MaxBackups int `json:"max_backups"`
}

// Metrics: Prometheus 导出；Listen 为空表示不启动 HTTP 服务。
type Metrics struct {
	Listen string `json:"listen"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Reader  string `json:"reader"`
	Decoder string `json:"decoder"`
	Writer  string `json:"writer"`
}

// Options: 各组件的原样 JSON Options。
type Options struct {
	Reader  json.RawMessage `json:"reader"`
	Decoder json.RawMessage `json:"decoder"`
	Writer  json.RawMessage `json:"writer"`
}
