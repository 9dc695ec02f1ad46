package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"adflow-gateway/internal/model"
)

const (
	signalPrefix = "---PROGRESS_UPDATE:"
	signalSuffix = "---"
)

// ErrMalformedSignal 推送信号不符合约定文法
var ErrMalformedSignal = errors.New("malformed progress signal")

// ParseProgressSignal 解析推送通道的进度信号
// 文法: ---PROGRESS_UPDATE:<task_type>:<task_id>:<event_type>:<current>:<total>:<custom_data_json>---
// custom_data_json本身可能含有冒号，因此只拆前5个分隔符
func ParseProgressSignal(signal string) (*model.TaskEvent, error) {
	if !strings.HasPrefix(signal, signalPrefix) || !strings.HasSuffix(signal, signalSuffix) {
		return nil, fmt.Errorf("%w: missing wrapper", ErrMalformedSignal)
	}

	body := strings.TrimSuffix(strings.TrimPrefix(signal, signalPrefix), signalSuffix)
	parts := strings.SplitN(body, ":", 6)
	if len(parts) != 6 {
		return nil, fmt.Errorf("%w: expected 6 fields, got %d", ErrMalformedSignal, len(parts))
	}

	ev := &model.TaskEvent{
		TaskType:  parts[0],
		TaskID:    parts[1],
		EventType: parts[2],
	}

	if !model.ValidTaskEventType(ev.EventType) {
		return nil, fmt.Errorf("%w: unknown event type %q", ErrMalformedSignal, ev.EventType)
	}

	current, err := strconv.Atoi(parts[3])
	if err != nil {
		return nil, fmt.Errorf("%w: bad current %q", ErrMalformedSignal, parts[3])
	}
	total, err := strconv.Atoi(parts[4])
	if err != nil {
		return nil, fmt.Errorf("%w: bad total %q", ErrMalformedSignal, parts[4])
	}
	ev.Current = current
	ev.Total = total

	if raw := parts[5]; raw != "" && raw != "{}" {
		if err := json.Unmarshal([]byte(raw), &ev.CustomData); err != nil {
			return nil, fmt.Errorf("%w: bad custom data: %v", ErrMalformedSignal, err)
		}
	}

	return ev, nil
}
