package task

import (
	"context"
	"time"

	"github.com/blues/fundledger/internal/logger"
	"github.com/blues/fundledger/internal/logic"
	"github.com/go-co-op/gocron/v2"
)

const replayBatchSize = 100

// EventReplayJob 重新投递长时间未处理的发件箱事件
type EventReplayJob struct {
	outbox      *logic.Outbox
	interval    time.Duration
	replayAfter time.Duration
}

func NewEventReplayJob(outbox *logic.Outbox, interval, replayAfter time.Duration) *EventReplayJob {
	return &EventReplayJob{outbox: outbox, interval: interval, replayAfter: replayAfter}
}

// GetName 获取任务名称
func (j *EventReplayJob) GetName() string {
	return "outbox_event_replayer"
}

// GetSchedule 获取调度配置
func (j *EventReplayJob) GetSchedule() gocron.JobDefinition {
	return gocron.DurationJob(j.interval)
}

// Execute 执行任务
func (j *EventReplayJob) Execute() {
	replayed, err := j.outbox.ReplayPending(context.Background(), j.replayAfter, replayBatchSize)
	if err != nil {
		logger.Error("Failed to replay outbox events: %v", err)
		return
	}
	if replayed > 0 {
		logger.Info("Outbox replay completed. Replayed %d events", replayed)
	}
}
