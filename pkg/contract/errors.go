package contract

import "errors"

// 最小错误分类（哨兵），上层以 errors.Is 判定。
var (
	// ErrDecode: 字节流含非法编码序列，或流结束时仍残留不完整的多字节序列。
	ErrDecode = errors.New("decode failed")
	// ErrOversizedRecord: 解码文本超过上限且其中不含任何未转义的记录分隔符。
	ErrOversizedRecord = errors.New("record exceeds buffer ceiling")
	// ErrConnection: 打开或读取外部输入流失败（含远端命令非零退出）。
	ErrConnection = errors.New("connection failed")
	// ErrSinkWrite: 输出工件写入失败。
	ErrSinkWrite = errors.New("sink write failed")
	// ErrInvalidInput: 调用参数或组件选项非法。
	ErrInvalidInput = errors.New("invalid input")
	// ErrPathInvalid: 工件标识映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
)
