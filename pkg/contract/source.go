package contract

import (
	"context"
	"io"
)

// Source: 外部输入流抽象（本地文件/STDIN、SSH 远端命令、Kafka 分区等）。
// 约束：
// 1) 每次 Open 返回一条全新的字节流，调用方负责 Close；
// 2) 仅提供字节，不做解码/业务解析；
// 3) 打开或读取失败以 ErrConnection 包装返回；
// 4) 不在内部起并发。
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Named: 可选接口，为日志提供稳定的流标识。
type Named interface {
	StreamID() StreamID
}
