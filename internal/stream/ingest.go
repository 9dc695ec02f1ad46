package stream

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

const dataPrefix = "data: "

// NetworkError 表示传输层失败（请求被拒绝、流读取出错）
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network failure: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// RemoteError 表示后端通过 type=error 信封主动终止流
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("stream error from backend: %s", e.Message)
}

// Ingestor 消费分块的文本流，把跨chunk边界拆分的行重组成完整信封
// 每个chunk信封在回调可见之前都会先交给路由器，片段不会绕过路由
type Ingestor struct {
	router *Router
}

func NewIngestor(router *Router) *Ingestor {
	return &Ingestor{router: router}
}

// Run 读取整个流直到完成或出错
// 单行解析失败不会中断流：去掉前缀后的原始载荷按普通内容片段处理，
// 空载荷哨兵行被忽略
// type=complete 立即终止（即使还有未读数据），type=error 以信封内容作为错误信息终止
func (in *Ingestor) Run(body io.Reader, emit func(Envelope)) error {
	reader := bufio.NewReader(body)

	for {
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return &NetworkError{Err: err}
		}

		done, lineErr := in.handleLine(line, emit)
		if lineErr != nil {
			return lineErr
		}
		if done {
			return nil
		}

		if err == io.EOF {
			return nil
		}
	}
}

// handleLine 处理一个重组完成的行，返回done=true表示流应立即终止
func (in *Ingestor) handleLine(line string, emit func(Envelope)) (bool, error) {
	payload := strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
	payload = strings.TrimPrefix(payload, dataPrefix)
	if payload == "" {
		return false, nil
	}

	var env Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		// 解析失败回退为字面内容，绝不丢弃
		env = Envelope{Type: EnvelopeChunk, Content: payload}
	}

	switch env.Type {
	case EnvelopeComplete:
		return true, nil
	case EnvelopeError:
		return true, &RemoteError{Message: env.Content}
	case EnvelopeChunk:
		in.router.Consume(env.Content)
		emit(env)
		return false, nil
	default:
		// 未知类型同样按字面chunk处理，保持片段守恒
		env = Envelope{Type: EnvelopeChunk, Content: payload}
		in.router.Consume(env.Content)
		emit(env)
		return false, nil
	}
}
