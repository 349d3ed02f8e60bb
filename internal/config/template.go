package config

import "encoding/json"

// DefaultTemplateConfig 返回一个“可运行”的默认配置模板：
// - 输入为工作目录下的 test.log（fs reader）；
// - 输出 test.csv / invalid_records.txt 到 ./out；
// - 选项包含各组件全部键，值为中性默认。
func DefaultTemplateConfig() Config {
	cfg := Defaults()
	cfg.TimeZone = ""
	cfg.Metrics.Listen = ""
	cfg.Options.Reader = json.RawMessage(`{
  "path": "test.log",
  "buf_size": 65536
}`)
	cfg.Options.Decoder = json.RawMessage(`{
  "charset": "utf-8"
}`)
	cfg.Options.Writer = json.RawMessage(`{
  "output_dir": "out",
  "atomic": false,
  "flat": true,
  "perm_file": 0,
  "perm_dir": 0
}`)
	return cfg
}

// SSHReaderTemplate 为远端读取提供的选项示例（写入 .env 模板时使用）。
const SSHReaderTemplate = `{"addr":"host:22","user":"ops","password_env":"LOGPIPE_SSH_PASSWORD","known_hosts":"~/.ssh/known_hosts","command":"cat test.log"}`
