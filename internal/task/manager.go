package task

import (
	"fmt"
	"time"

	"github.com/blues/fundledger/internal/config"
	"github.com/blues/fundledger/internal/logger"
	"github.com/blues/fundledger/internal/logic"
	"github.com/go-co-op/gocron/v2"
)

// Job 定时任务
type Job interface {
	GetName() string
	GetSchedule() gocron.JobDefinition
	Execute()
}

// Manager 任务管理器
type Manager struct {
	scheduler gocron.Scheduler
	services  *logic.Services
	config    config.TaskConfig
}

// NewManager 创建新的任务管理器
func NewManager(services *logic.Services, cfg config.TaskConfig) (*Manager, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Manager{
		scheduler: s,
		services:  services,
		config:    cfg,
	}, nil
}

// Start 注册所有任务并启动调度器
func (m *Manager) Start() {
	m.RegisterJobs()
	m.scheduler.Start()
	logger.Info("Task manager started successfully")
}

// RegisterJobs 注册所有任务
func (m *Manager) RegisterJobs() {
	interval := time.Duration(m.config.Interval) * time.Second
	replayAfter := time.Duration(m.config.ReplayAfter) * time.Second

	// 托管释放兜底扫描
	m.Register(NewEscrowReleaseJob(m.services.Escrow, interval))
	// 发件箱事件重放
	m.Register(NewEventReplayJob(m.services.Outbox, interval, replayAfter))
}

// Register 注册单个任务
func (m *Manager) Register(job Job) {
	_, err := m.scheduler.NewJob(
		job.GetSchedule(),
		gocron.NewTask(job.Execute),
		gocron.WithName(job.GetName()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		logger.Error("Failed to register job %s: %v", job.GetName(), err)
	}
}

// JobNames 已注册任务名
func (m *Manager) JobNames() []string {
	jobs := m.scheduler.Jobs()
	names := make([]string, 0, len(jobs))
	for _, j := range jobs {
		names = append(names, j.Name())
	}
	return names
}

// Stop 停止任务管理器
func (m *Manager) Stop() {
	if err := m.scheduler.Shutdown(); err != nil {
		logger.Error("Failed to shutdown scheduler: %v", err)
	}
	logger.Info("Task manager stopped")
}
