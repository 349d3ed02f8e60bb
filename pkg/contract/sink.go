package contract

// Sink: 单类别输出的批量缓冲。
// 约束：
//  1. Append 只入缓冲，不触发 I/O；
//  2. 一次写出整段缓冲，记录不会被拆到两次写出之间；
//  3. 非并发安全，由上层背压保证同一时刻只有一个持有者；
//  4. 写出失败以 ErrSinkWrite 包装返回。
type Sink interface {
	Append(line string)
	FlushIfThresholdReached() error
	FlushFinal() error
}
