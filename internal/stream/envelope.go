package stream

import "strings"

// 流信封类型
const (
	EnvelopeChunk    = "chunk"
	EnvelopeComplete = "complete"
	EnvelopeError    = "error"
)

// Envelope 是流协议的单个解析单元
type Envelope struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// 控制标记名称，内容片段以 ---NAME:payload--- 或 ---NAME--- 形式携带
const (
	MarkerCacheExternalRecord  = "CACHE_EXTERNAL_RECORD"
	MarkerRedirectToEditor     = "REDIRECT_TO_EDITOR"
	MarkerTargetBuffer         = "TARGET_BUFFER"
	MarkerStreamStart          = "STREAM_START"
	MarkerStreamEnd            = "STREAM_END"
	MarkerReturnToConversation = "RETURN_TO_CONVERSATION"
)

const markerDelim = "---"

// ParseMarker 尝试把一个完整片段识别为控制标记
// 只有片段以 --- 开头并以 --- 结尾时才会被识别，跨片段拆分的标记不做重组
// 返回标记名称、冒号后的载荷（可能为空）以及是否识别成功
func ParseMarker(fragment string) (name, payload string, ok bool) {
	if !strings.HasPrefix(fragment, markerDelim) || !strings.HasSuffix(fragment, markerDelim) {
		return "", "", false
	}
	body := strings.TrimSuffix(strings.TrimPrefix(fragment, markerDelim), markerDelim)
	if body == "" {
		return "", "", false
	}
	if idx := strings.Index(body, ":"); idx >= 0 {
		return body[:idx], body[idx+1:], true
	}
	return body, "", true
}
