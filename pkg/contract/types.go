package contract

// StreamID: 输入流的逻辑标识（文件路径、远端地址、主题分区等），仅用于日志与提示。
type StreamID string

// Outcome: 单条记录的校验结果。
// Valid 为 true 时 Timestamp/Operator/Operation 有效，Reason 为空；
// 否则 Reason 为人类可读的失败原因。Line 总是对应类别的完整输出文本（含结尾换行）。
type Outcome struct {
	Valid     bool
	Timestamp string // 已格式化的本地时间
	Operator  string
	Operation string
	Reason    string
	Line      string
}
