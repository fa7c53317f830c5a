package editor

import (
	"encoding/json"
	"strconv"
	"strings"

	xerrors "AgentCanvas/internal/errors"
	"AgentCanvas/internal/graph"
)

// PayloadKind 区分三种拖放载荷。
type PayloadKind string

const (
	PayloadTool  PayloadKind = "tool"
	PayloadAgent PayloadKind = "agent"
	PayloadBlock PayloadKind = "block"
)

// Payload 是解码后的拖放载荷。
type Payload struct {
	Kind PayloadKind `json:"kind"`

	SubnetID   string `json:"subnetId,omitempty"`
	SubnetName string `json:"subnetName,omitempty"`

	AgentID   string `json:"agentId,omitempty"`
	AgentName string `json:"agentName,omitempty"`

	BlockType graph.NodeType `json:"blockType,omitempty"`
	Label     string         `json:"label,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// DecodePayload 按 工具、智能体、通用块 的顺序识别载荷。
//
// 工具需要 unique_id 与 subnet_name，智能体需要 id 与 name，通用块需要 type。
// 其余输入返回 CodeInvalidPayload。
func DecodePayload(raw []byte) (Payload, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return Payload{}, xerrors.Wrap(CodeInvalidPayload, err, "payload is not a JSON object")
	}

	if id, name := scalar(fields["unique_id"]), scalar(fields["subnet_name"]); id != "" && name != "" {
		return Payload{Kind: PayloadTool, SubnetID: id, SubnetName: name}, nil
	}
	if id, name := scalar(fields["id"]), scalar(fields["name"]); id != "" && name != "" {
		return Payload{Kind: PayloadAgent, AgentID: id, AgentName: name}, nil
	}
	if t := scalar(fields["type"]); t != "" {
		p := Payload{Kind: PayloadBlock, BlockType: blockType(t), Label: scalar(fields["label"])}
		if data, ok := fields["data"].(map[string]any); ok {
			p.Data = data
		}
		return p, nil
	}
	return Payload{}, xerrors.New(CodeInvalidPayload, "unrecognized drop payload")
}

// blockType 将拖放块类型映射为节点类型，loop 块落地为循环容器。
func blockType(t string) graph.NodeType {
	if strings.EqualFold(t, string(graph.TypeLoop)) {
		return graph.TypeLoopContainer
	}
	return graph.NodeType(t)
}

// scalar 将字符串或数字字段转换为去空白的字符串，其余类型视为缺失。
func scalar(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	default:
		return ""
	}
}
