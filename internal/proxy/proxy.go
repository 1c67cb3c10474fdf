// Package proxy 负责 TCP 连接管理、双向转发与逐块 hex 日志
// 这是核心管道模块
package proxy

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/Versifine/hexrelay/internal/hexdump"
)

// chunkSize 单次读取上限
const chunkSize = 4096

// relayChunks 把 src 的数据逐块转发到 dst，每块先记录再完整写出
// 结束时只半关闭 dst 的写方向，src 和 dst 的完整关闭由调用方负责
// 记录失败不影响转发，每个方向只报告第一次
func relayChunks(src io.Reader, dst io.Writer, direction, client string, sink hexdump.Sink, log *slog.Logger) error {
	defer halfClose(dst)

	sinkFailed := false
	buf := make([]byte, chunkSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			record := hexdump.NewRecord(direction, chunk)
			record.Client = client
			if err := sink.Emit(record); err != nil && !sinkFailed {
				sinkFailed = true
				log.Debug("Sink error", "direction", direction, "client", client, "error", err)
			}
			if _, werr := dst.Write(chunk); werr != nil {
				return fmt.Errorf("%w: write %s: %w", ErrRelayIO, direction, werr)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("%w: read %s: %w", ErrRelayIO, direction, err)
		}
	}
}

type closeWriter interface {
	CloseWrite() error
}

// halfClose 失败时静默忽略，关闭过程中的竞争是预期内的
func halfClose(w io.Writer) {
	if cw, ok := w.(closeWriter); ok {
		_ = cw.CloseWrite()
	}
}
