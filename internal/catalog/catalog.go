package catalog

import (
	"context"

	xerrors "AgentCanvas/internal/errors"
)

// Subnet 描述一个可拖入画布的工具。
type Subnet struct {
	ID          string         `json:"id"`
	Name        string         `json:"subnet_name"`
	Description string         `json:"description,omitempty"`
	Detail      map[string]any `json:"detail,omitempty"`
}

// LayoutItem 是智能体预置布局中的一个子节点。
type LayoutItem struct {
	ItemID     string   `json:"item_id"`
	SubnetID   string   `json:"subnet_id"`
	SubnetName string   `json:"subnet_name"`
	Inputs     []string `json:"inputs,omitempty"`
}

// Agent 描述一个预置的工作流模板。
type Agent struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	SubnetList  []string     `json:"subnet_list,omitempty"`
	Layout      []LayoutItem `json:"layout,omitempty"`
}

// Catalog 是详情服务的抽象。实现必须以错误返回失败，不得 panic。
type Catalog interface {
	GetSubnet(ctx context.Context, id string) (*Subnet, error)
	GetAgent(ctx context.Context, id string) (*Agent, error)
}

const (
	CodeSubnetNotFound xerrors.Code = "CATALOG_SUBNET_NOT_FOUND"
	CodeAgentNotFound  xerrors.Code = "CATALOG_AGENT_NOT_FOUND"
)

func init() {
	xerrors.Register(CodeSubnetNotFound, xerrors.Attributes{Message: "subnet not found", Severity: xerrors.SeverityWarning, Kind: xerrors.KindDegraded, Notify: true})
	xerrors.Register(CodeAgentNotFound, xerrors.Attributes{Message: "agent not found", Severity: xerrors.SeverityWarning, Kind: xerrors.KindDegraded, Notify: true})
}
