package registry

import (
	"bytes"
	"encoding/json"
	"sort"

	"logpipe/pkg/contract"
	dtext "logpipe/plugins/decoder/text"
	rfs "logpipe/plugins/reader/filesystem"
	rflaky "logpipe/plugins/reader/flaky"
	rkafka "logpipe/plugins/reader/kafka"
	rssh "logpipe/plugins/reader/ssh"
	wfs "logpipe/plugins/writer/filesystem"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// NewReader 工厂签名：接收原样 JSON Options。
type NewReader func(raw json.RawMessage) (contract.Source, error)

// NewDecoder 工厂签名：返回按尝试构造 Decoder 的工厂。
type NewDecoder func(raw json.RawMessage) (contract.DecoderFactory, error)

// NewWriter 工厂签名：接收原样 JSON Options。
type NewWriter func(raw json.RawMessage) (contract.Writer, error)

// Reader 工厂注册表（显式、零反射）。
var Reader = map[string]NewReader{
	// fs: 本地文件 / STDIN
	"fs": func(raw json.RawMessage) (contract.Source, error) {
		var opts rfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rfs.New(&opts), nil
	},
	// ssh: 远端命令的标准输出
	"ssh": func(raw json.RawMessage) (contract.Source, error) {
		var opts rssh.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rssh.New(&opts)
	},
	// kafka: 单分区从最早位点到打开时的高水位
	"kafka": func(raw json.RawMessage) (contract.Source, error) {
		var opts rkafka.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rkafka.New(&opts)
	},
	// flaky: 前 N 次失败，用于演练重试
	"flaky": func(raw json.RawMessage) (contract.Source, error) {
		var opts rflaky.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rflaky.New(&opts)
	},
}

// Decoder 工厂注册表。
var Decoder = map[string]NewDecoder{
	// text: 增量文本解码（默认严格 UTF-8，可选传统字符集）
	"text": func(raw json.RawMessage) (contract.DecoderFactory, error) {
		var opts dtext.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return dtext.New(&opts)
	},
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// fs: 文件系统 Writer（打开即截断；原子替换可配置）
	"fs": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts)
	},
}

// Names 返回注册表中已排序的名称（用于错误提示与 --status）。
func Names[F any](m map[string]F) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
