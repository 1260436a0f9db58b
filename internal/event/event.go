package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type 领域事件类型
type Type int

const (
	TypeUnknown Type = iota
	TypeThresholdCrossed
	TypeEscrowsReleased
	TypeTokensDistributed
	TypeDividendCompleted
)

var typeNames = map[Type]string{
	TypeThresholdCrossed:  "ThresholdCrossed",
	TypeEscrowsReleased:   "EscrowsReleased",
	TypeTokensDistributed: "TokensDistributed",
	TypeDividendCompleted: "DividendCompleted",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "Unknown"
}

// ParseType 解析发件箱中保存的类型名
func ParseType(s string) (Type, error) {
	for t, name := range typeNames {
		if name == s {
			return t, nil
		}
	}
	return TypeUnknown, fmt.Errorf("unknown event type %q", s)
}

// AllTypes 所有已知事件类型
func AllTypes() []Type {
	return []Type{TypeThresholdCrossed, TypeEscrowsReleased, TypeTokensDistributed, TypeDividendCompleted}
}

// Event 领域事件
type Event struct {
	ID         string          `json:"id"`
	Type       Type            `json:"-"`
	TypeName   string          `json:"type"`
	CampaignID string          `json:"campaign_id"`
	Data       json.RawMessage `json:"data"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// New 构造事件，payload 编码为 JSON
func New(t Type, campaignID string, payload interface{}) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		TypeName:   t.String(),
		CampaignID: campaignID,
		Data:       data,
		OccurredAt: time.Now(),
	}, nil
}

// Decode 解码 payload
func (e Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// ThresholdCrossed 活动首次达到募资目标
type ThresholdCrossed struct {
	CampaignID string `json:"campaign_id"`
	NewTotal   string `json:"new_total"`
	GoalAmount string `json:"goal_amount"`
}

// EscrowsReleased 一批托管释放完成
type EscrowsReleased struct {
	CampaignID string `json:"campaign_id"`
	Total      int    `json:"total"`
	Succeeded  int    `json:"succeeded"`
	Failed     int    `json:"failed"`
	Funded     bool   `json:"funded"`
}

// TokensDistributed 一次代币分发结束
type TokensDistributed struct {
	CampaignID  string `json:"campaign_id"`
	TokenID     string `json:"token_id"`
	Status      string `json:"status"`
	Distributed string `json:"distributed"`
}

// DividendCompleted 一次分红派发结束
type DividendCompleted struct {
	CampaignID  string `json:"campaign_id"`
	DividendID  string `json:"dividend_id"`
	Status      string `json:"status"`
	Distributed string `json:"distributed"`
}
