package diag

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"logpipe/pkg/contract"
)

// Code 是最小错误分类代码。
// 仅用于日志/指标汇总，与退出码解耦。
type Code string

const (
	CodeUnknown   Code = "unknown"
	CodeNetwork   Code = "network"
	CodeDecode    Code = "decode"
	CodeFormat    Code = "format"
	CodeInvariant Code = "invariant"
	CodeCancel    Code = "cancel"
	CodeIO        Code = "io"
)

// Classify 将错误归为最小分类。
// 说明：仅依赖哨兵错误与标准库错误类型，不做字符串匹配。
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	// 取消/超时优先
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancel
	}
	if errors.Is(err, contract.ErrDecode) {
		return CodeDecode
	}
	// 无边界的超长记录
	if errors.Is(err, contract.ErrOversizedRecord) {
		return CodeFormat
	}
	if errors.Is(err, contract.ErrConnection) {
		return CodeNetwork
	}
	if errors.Is(err, contract.ErrSinkWrite) {
		return CodeIO
	}
	if errors.Is(err, contract.ErrInvalidInput) || errors.Is(err, contract.ErrPathInvalid) {
		return CodeInvariant
	}
	var perr *os.PathError
	if errors.As(err, &perr) {
		return CodeIO
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return CodeNetwork
	}
	return CodeUnknown
}

// NowUTC 返回 RFC3339 UTC 时间字符串（用于结构化日志字段 ts）。
func NowUTC() string { return time.Now().UTC().Format(time.RFC3339) }
