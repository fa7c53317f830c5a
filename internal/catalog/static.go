package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	xerrors "AgentCanvas/internal/errors"
)

// StaticCatalog 通过加载 JSON 文件提供固定的工具与智能体目录。
type StaticCatalog struct {
	subnets map[string]Subnet
	agents  map[string]Agent
}

// staticFile 是静态目录文件的结构。
type staticFile struct {
	Subnets []Subnet `json:"subnets"`
	Agents  []Agent  `json:"agents"`
}

// NewStaticCatalog 使用内存数据创建静态目录。
func NewStaticCatalog(subnets []Subnet, agents []Agent) *StaticCatalog {
	c := &StaticCatalog{
		subnets: make(map[string]Subnet, len(subnets)),
		agents:  make(map[string]Agent, len(agents)),
	}
	for _, s := range subnets {
		c.subnets[s.ID] = s
	}
	for _, a := range agents {
		c.agents[a.ID] = a
	}
	return c
}

// LoadStaticCatalog 从 JSON 文件加载目录。
func LoadStaticCatalog(path string) (*StaticCatalog, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("目录文件路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析目录路径失败: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取目录文件失败: %w", err)
	}
	defer file.Close()

	var content staticFile
	if err := json.NewDecoder(file).Decode(&content); err != nil {
		return nil, fmt.Errorf("解析目录文件失败: %w", err)
	}
	return NewStaticCatalog(content.Subnets, content.Agents), nil
}

// GetSubnet 返回工具详情。
func (c *StaticCatalog) GetSubnet(ctx context.Context, id string) (*Subnet, error) {
	if err := ctx.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "")
	}
	s, ok := c.subnets[id]
	if !ok {
		return nil, xerrors.New(CodeSubnetNotFound, "", xerrors.WithMetadata("subnet_id", id))
	}
	return &s, nil
}

// GetAgent 返回智能体详情。布局切片被复制，调用方可以安全修改。
func (c *StaticCatalog) GetAgent(ctx context.Context, id string) (*Agent, error) {
	if err := ctx.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "")
	}
	a, ok := c.agents[id]
	if !ok {
		return nil, xerrors.New(CodeAgentNotFound, "", xerrors.WithMetadata("agent_id", id))
	}
	a.Layout = append([]LayoutItem(nil), a.Layout...)
	a.SubnetList = append([]string(nil), a.SubnetList...)
	return &a, nil
}

var _ Catalog = (*StaticCatalog)(nil)
