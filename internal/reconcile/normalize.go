package reconcile

import (
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "AgentCanvas/internal/errors"
)

const (
	CodeEventDropped xerrors.Code = "RECONCILE_EVENT_DROPPED"
)

func init() {
	xerrors.Register(CodeEventDropped, xerrors.Attributes{Message: "event carries no addressable identity", Severity: xerrors.SeverityInfo, Kind: xerrors.KindDropped})
}

// DefaultSentinels 是表示"无名称"的占位名称。
var DefaultSentinels = []string{"Unknown Subnet"}

// DefaultChainable 是可链接输出的生产者类型，按名称子串匹配。
var DefaultChainable = []string{"text generation", "llm", "gpt", "summar", "translat", "chat", "writer"}

// syntheticName 是无法识别的原始事件合成步骤的名称。
const syntheticName = "Raw Event"

// Step 是归一化后的规范步骤。
type Step struct {
	ItemID          string         `json:"itemID"`
	ID              string         `json:"id,omitempty"`
	Name            string         `json:"name"`
	Status          Status         `json:"status"`
	Message         string         `json:"message,omitempty"`
	ResponseData    map[string]any `json:"responseData,omitempty"`
	Files           []File         `json:"files,omitempty"`
	ExtractedImages []string       `json:"extractedImages"`
}

// Normalizer 将事件转换为规范步骤。
type Normalizer struct {
	sentinels []string
	chainable []string
}

// NewNormalizer 创建 Normalizer，参数为空时使用默认列表。
func NewNormalizer(sentinels, chainable []string) *Normalizer {
	if len(sentinels) == 0 {
		sentinels = DefaultSentinels
	}
	if len(chainable) == 0 {
		chainable = DefaultChainable
	}
	n := &Normalizer{}
	for _, s := range sentinels {
		n.sentinels = append(n.sentinels, strings.ToLower(strings.TrimSpace(s)))
	}
	for _, c := range chainable {
		n.chainable = append(n.chainable, strings.ToLower(strings.TrimSpace(c)))
	}
	return n
}

// Normalize 返回事件对应的步骤；名称为空、为占位名称或缺少身份键的事件返回 false。
// 对已经是规范形态的步骤重复归一化得到相同结果。
func (n *Normalizer) Normalize(ev Event) (*Step, bool) {
	step, err := n.normalize(ev)
	if err != nil {
		return nil, false
	}
	return step, true
}

func (n *Normalizer) normalize(ev Event) (*Step, error) {
	if ev.Kind == KindUnknown {
		return synthetic(ev.Raw), nil
	}

	payload := ev.Payload
	if payload == nil {
		payload = map[string]any{}
	}

	name := ResolveSubnetName(payload)
	if name == "" || n.isSentinel(name) {
		return nil, xerrors.New(CodeEventDropped, "event has no resolvable name", xerrors.WithMetadata("name", name))
	}
	identity := identityOf(payload)
	if identity == "" {
		return nil, xerrors.New(CodeEventDropped, "event has no identity", xerrors.WithMetadata("name", name))
	}

	status := MapStatus(scalarString(payload["status"]))
	if ev.Kind == KindError {
		status = StatusError
	}

	message, data := ExtractMessage(payload)
	if message == "" && ev.Kind == KindError {
		message = ev.Text
	}

	step := &Step{
		ItemID:       identity,
		ID:           scalarString(payload["id"]),
		Name:         name,
		Status:       status,
		Message:      message,
		ResponseData: data,
		Files:        BuildFiles(payload, identity),
	}
	texts := []string{message}
	if data != nil {
		texts = append(texts, stringify(data))
	}
	step.ExtractedImages = mergeImages(payload["extractedImages"], ExtractImageURLs(texts...))
	return step, nil
}

// synthetic 为无法识别的事件合成一个 pending 步骤。身份由原文的 Keccak 摘要派生，重放时可以去重。
func synthetic(raw string) *Step {
	digest := crypto.Keccak256([]byte(raw))
	return &Step{
		ItemID:          "raw-" + strings.TrimPrefix(hexutil.Encode(digest[:8]), "0x"),
		Name:            syntheticName,
		Status:          StatusPending,
		Message:         raw,
		ExtractedImages: mergeImages(nil, ExtractImageURLs(raw)),
	}
}

func (n *Normalizer) isSentinel(name string) bool {
	lower := strings.ToLower(name)
	for _, s := range n.sentinels {
		if lower == s {
			return true
		}
	}
	return false
}

// IsChainable 判断步骤名称是否属于可链接输出的生产者，大小写不敏感的子串匹配。
func (n *Normalizer) IsChainable(name string) bool {
	lower := strings.ToLower(name)
	for _, c := range n.chainable {
		if c != "" && strings.Contains(lower, c) {
			return true
		}
	}
	return false
}
