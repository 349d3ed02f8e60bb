package contract

// Splitter: 将解码文本切分为记录序列与未终结的尾部。
// 约束：纯函数、幂等、无内部并发；记录保持原始文本（含转义）。
type Splitter interface {
	Split(text string) (records []string, remainder string)
}
