package feed

import (
	"context"
	"encoding/json"
	"strings"

	xerrors "AgentCanvas/internal/errors"
)

// Signal 区分普通事件与运行级终态信号。
type Signal string

const (
	SignalEvent    Signal = ""
	SignalComplete Signal = "completed"
	SignalError    Signal = "error"
)

// Message 是队列中传递的一条记录。Signal 为空时 Payload 为执行端的原始事件。
type Message struct {
	RunID   string          `json:"runId"`
	Signal  Signal          `json:"signal,omitempty"`
	Reason  string          `json:"reason,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EventMessage 构造携带原始事件的消息。
func EventMessage(runID string, raw []byte) Message {
	return Message{RunID: runID, Payload: json.RawMessage(append([]byte(nil), raw...))}
}

// CompleteMessage 构造完成信号。
func CompleteMessage(runID string) Message {
	return Message{RunID: runID, Signal: SignalComplete}
}

// ErrorMessage 构造失败信号。
func ErrorMessage(runID, reason string) Message {
	return Message{RunID: runID, Signal: SignalError, Reason: reason}
}

// Encode 将消息编码为 JSON。
func Encode(m Message) ([]byte, error) {
	if strings.TrimSpace(m.RunID) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "run id is empty")
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码队列消息失败")
	}
	return data, nil
}

// Decode 解析队列中的 JSON 消息。
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析队列消息失败")
	}
	m.Signal = Signal(strings.ToLower(strings.TrimSpace(string(m.Signal))))
	if strings.TrimSpace(m.RunID) == "" {
		return Message{}, xerrors.New(xerrors.CodeInvalidArgument, "run id is empty")
	}
	return m, nil
}

// Handler 处理一条队列消息。
type Handler func(ctx context.Context, msg Message) error

// Producer 负责向队列投递消息。
type Producer interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Consumer 负责从队列中消费消息。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}
