package contract

import (
	"context"
	"io"
)

// ArtifactID: 输出工件标识（相对名称，由 Writer 映射到具体介质）。
type ArtifactID string

// Writer: 打开输出工件用于流式写入。
// 约束：
//  1. 同一 ArtifactID 单写者；
//  2. 每次 Open 截断既有内容（每次尝试从空文件开始）；
//  3. ctx 取消/超时需尽快返回；
//  4. 错误直接上抛（不做重试/回退）。
type Writer interface {
	Open(ctx context.Context, id ArtifactID) (io.WriteCloser, error)
}
