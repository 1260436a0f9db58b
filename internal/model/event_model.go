package model

import (
	"time"
)

// EventModel 领域事件发件箱，与触发它的状态变更在同一事务内写入
type EventModel struct {
	Id        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	EventType   string     `json:"event_type" gorm:"type:varchar(32);index;not null"`
	AggregateId string     `json:"aggregate_id" gorm:"type:varchar(36);index;not null"`
	Data        string     `json:"data" gorm:"type:text"`
	Processed   bool       `json:"processed" gorm:"index;default:false"`
	ProcessedAt *time.Time `json:"processed_at"`
	Attempts    int        `json:"attempts" gorm:"default:0"`
}

// TableName 自定义表名
func (EventModel) TableName() string {
	return "event"
}
