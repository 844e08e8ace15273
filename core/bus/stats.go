package bus

import (
	"context"
	"time"

	"FeiLiu/logger"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

// StreamCounter 提供活跃流数量，由 StreamOrchestrator 实现
type StreamCounter interface {
	ActiveStreamCount() int
}

// StatsBroadcaster 周期性地采集资源快照并广播 server_stats 事件
type StatsBroadcaster struct {
	hub      *Hub
	streams  StreamCounter
	interval time.Duration
	diskPath string
	started  time.Time
}

// NewStatsBroadcaster 创建统计广播器
// diskPath 指向媒体产物所在的文件系统（通常是静态目录）。
func NewStatsBroadcaster(hub *Hub, streams StreamCounter, interval time.Duration, diskPath string) *StatsBroadcaster {
	if diskPath == "" {
		diskPath = "/"
	}
	return &StatsBroadcaster{
		hub:      hub,
		streams:  streams,
		interval: interval,
		diskPath: diskPath,
		started:  time.Now(),
	}
}

// Run 启动广播循环，ctx 取消时退出
func (b *StatsBroadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.hub.PublishAdmin(Event{
				Type:    EvtServerStats,
				Payload: b.snapshot(),
			})
		}
	}
}

// snapshot 采集一次资源快照
// 单项采集失败只记日志，对应字段置零，不中断广播。
func (b *StatsBroadcaster) snapshot() ServerStatsPayload {
	stats := ServerStatsPayload{
		ActiveStreams: b.streams.ActiveStreamCount(),
		ActiveUsers:   b.hub.ActiveUserCount(),
		Uptime:        time.Since(b.started).Seconds(),
	}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		stats.CPU = percents[0]
	} else if err != nil {
		logger.Warn("采集CPU占用失败", logger.ErrorField(err))
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		stats.Memory = vm.UsedPercent
	} else {
		logger.Warn("采集内存占用失败", logger.ErrorField(err))
	}

	if du, err := disk.Usage(b.diskPath); err == nil {
		stats.Disk = du.UsedPercent
	} else {
		logger.Warn("采集磁盘占用失败",
			logger.String("path", b.diskPath),
			logger.ErrorField(err))
	}

	return stats
}
