package contract

// Decoder: 增量字节→文本解码器（有状态，单次尝试内使用）。
// 约束：
// 1) Feed 返回本次可完整解码的文本；跨块截断的多字节序列暂存到下一次 Feed；
// 2) 非法序列返回 ErrDecode，不做静默替换（严格模式）；
// 3) Flush 在流结束时调用；仍有残留字节时返回 ErrDecode。
type Decoder interface {
	Feed(chunk []byte) (string, error)
	Flush() (string, error)
}

// DecoderFactory 为每次尝试构造全新的 Decoder。
type DecoderFactory interface {
	NewDecoder() Decoder
}
