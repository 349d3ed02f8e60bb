package oplog

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"logpipe/pkg/contract"
	"logpipe/plugins/splitter/escape"
)

// 操作日志记录：时间戳(毫秒)|操作人|操作内容
const (
	FieldCount = 3
	// DefaultMaxFieldLen: 单字段上限（字符数）。
	DefaultMaxFieldLen = 32767
	// TimeLayout: 有效记录的时间格式。
	TimeLayout = "2006-01-02 15:04:05"
	// Separator: 无效记录块之间的分隔线。
	Separator     = "------------------"
	reasonUnknown = "未知原因"
)

// Options: 校验器选项。
type Options struct {
	// MaxFieldLen: 操作人/操作内容字段的最大字符数；<=0 使用默认 32767。
	MaxFieldLen int `json:"max_field_len"`
	// Location: 时间戳格式化所用时区；nil 使用系统本地时区。
	Location *time.Location `json:"-"`
}

// Validator 对单条记录做字段校验并格式化输出行。无状态，可并发使用。
type Validator struct {
	maxLen int
	loc    *time.Location
}

// New 创建 Validator。
func New(opts *Options) *Validator {
	v := &Validator{maxLen: DefaultMaxFieldLen, loc: time.Local}
	if opts != nil {
		if opts.MaxFieldLen > 0 {
			v.maxLen = opts.MaxFieldLen
		}
		if opts.Location != nil {
			v.loc = opts.Location
		}
	}
	return v
}

var _ contract.Validator = (*Validator)(nil)

// Validate 按优先级依次检查：字段数、时间戳、操作人长度、操作内容长度。
// 只报告第一个失败原因。
func (v *Validator) Validate(record string) contract.Outcome {
	fields := escape.SplitFields(record)
	if len(fields) != FieldCount {
		return invalid(record, fmt.Sprintf("字段数量不符，应为 %d 个字段，实际为 %d 个字段", FieldCount, len(fields)))
	}
	ms, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return invalid(record, "字段 1（时间戳）无效：无法解析为整数毫秒时间戳")
	}
	if utf8.RuneCountInString(fields[1]) > v.maxLen {
		return invalid(record, fmt.Sprintf("字段 2（操作人）无效：长度超过 %d 字符", v.maxLen))
	}
	if utf8.RuneCountInString(fields[2]) > v.maxLen {
		return invalid(record, fmt.Sprintf("字段 3（操作内容）无效：长度超过 %d 字符", v.maxLen))
	}
	ts := time.UnixMilli(ms).In(v.loc).Format(TimeLayout)
	return contract.Outcome{
		Valid:     true,
		Timestamp: ts,
		Operator:  fields[1],
		Operation: fields[2],
		Line:      FormatValid(ts, fields[2]),
	}
}

// FormatValid 生成有效输出行：<时间>,"<操作内容>"
// 操作内容中的双引号不做转义，与既有下游格式保持一致。
func FormatValid(ts, operation string) string {
	var b strings.Builder
	b.Grow(len(ts) + len(operation) + 4)
	b.WriteString(ts)
	b.WriteString(",\"")
	b.WriteString(operation)
	b.WriteString("\"\n")
	return b.String()
}

// FormatInvalid 生成无效记录块。reason 为空时使用“未知原因”。
func FormatInvalid(record, reason string) string {
	if reason == "" {
		reason = reasonUnknown
	}
	return "原始记录: " + record + "\n无效原因: " + reason + "\n" + Separator + "\n"
}

func invalid(record, reason string) contract.Outcome {
	return contract.Outcome{Reason: reason, Line: FormatInvalid(record, reason)}
}
