package task

import (
	"context"
	"time"

	"github.com/blues/fundledger/internal/logger"
	"github.com/blues/fundledger/internal/logic"
	"github.com/go-co-op/gocron/v2"
)

// EscrowReleaseJob 扫描已达标但托管未释放完的活动
type EscrowReleaseJob struct {
	escrow   *logic.EscrowManager
	interval time.Duration
}

func NewEscrowReleaseJob(escrow *logic.EscrowManager, interval time.Duration) *EscrowReleaseJob {
	return &EscrowReleaseJob{escrow: escrow, interval: interval}
}

// GetName 获取任务名称
func (j *EscrowReleaseJob) GetName() string {
	return "escrow_release_sweeper"
}

// GetSchedule 获取调度配置
func (j *EscrowReleaseJob) GetSchedule() gocron.JobDefinition {
	return gocron.DurationJob(j.interval)
}

// Execute 执行任务
func (j *EscrowReleaseJob) Execute() {
	logger.Info("Starting escrow release sweep")

	releases, err := j.escrow.CheckAndReleaseEscrows(context.Background())
	if err != nil {
		logger.Error("Failed to list releasable campaigns: %v", err)
		return
	}

	funded, failed := 0, 0
	for _, r := range releases {
		if r.Error != "" || r.Result == nil || !r.Result.Clean() {
			failed++
			continue
		}
		funded++
	}

	logger.Info("Escrow release sweep completed. Campaigns: %d, released: %d, pending retry: %d", len(releases), funded, failed)
}
