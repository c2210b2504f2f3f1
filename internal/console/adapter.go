// Package console 提供本地终端适配器, 无任何平台凭据时的兜底。
// 出站消息打印到 stdout, 入站从 stdin 逐行读取。
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/Liyunlun/message-bridge-opencode-plugin/pkg/logger"
)

// ChatID 终端会话的固定聊天 ID。
const ChatID = "console"

// IncomingFunc 入站消息回调。
type IncomingFunc func(ctx context.Context, chatID, senderID, messageID, text string)

// Adapter 终端适配器。"编辑" 以重印实现, 每条消息带序号便于对照。
type Adapter struct {
	mu     sync.Mutex
	out    io.Writer
	nextID atomic.Int64
}

// New 创建终端适配器, 输出到 stdout。
func New() *Adapter {
	return &Adapter{out: os.Stdout}
}

// Provider 平台标识。走默认投递策略。
func (a *Adapter) Provider() string { return "console" }

// SendMessage 打印消息并返回自增 ID。
func (a *Adapter) SendMessage(_ context.Context, _ string, text string) (string, error) {
	id := strconv.FormatInt(a.nextID.Add(1), 10)
	a.mu.Lock()
	fmt.Fprintf(a.out, "\n──── message #%s ────\n%s\n", id, text)
	a.mu.Unlock()
	return id, nil
}

// EditMessage 重印消息全文, 标注被更新的序号。
func (a *Adapter) EditMessage(_ context.Context, _ string, messageID, text string) (bool, error) {
	a.mu.Lock()
	fmt.Fprintf(a.out, "\n──── message #%s (updated) ────\n%s\n", messageID, text)
	a.mu.Unlock()
	return true, nil
}

// ReadLoop 从 stdin 逐行读取输入交给 handle, EOF 或 ctx 取消时返回。
func (a *Adapter) ReadLoop(ctx context.Context, handle IncomingFunc) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)

	n := 0
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Text()
		if line == "" {
			continue
		}
		n++
		handle(ctx, ChatID, "local", "stdin-"+strconv.Itoa(n), line)
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("console read failed", logger.FieldError, err)
	}
}
