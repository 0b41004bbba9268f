package services

import (
	"context"
	"time"

	types "github.com/regardsoss/dataprovider/internal/domain/jobs"
	"github.com/regardsoss/dataprovider/internal/pkg/logger"
	"github.com/regardsoss/dataprovider/internal/realtime"
	"github.com/regardsoss/dataprovider/internal/realtime/bus"
)

// JobsChannel is the bus channel carrying job lifecycle events.
const JobsChannel = "jobs"

type JobNotifier interface {
	JobCreated(job *types.JobRun)
	JobProgress(job *types.JobRun, stage string, progress int, message string)
	JobFailed(job *types.JobRun, stage string, errorMessage string)
	JobDone(job *types.JobRun)
}

type jobNotifier struct {
	bus bus.Bus
	log *logger.Logger
}

// NewJobNotifier publishes job events on b. A nil bus yields a notifier that drops everything.
func NewJobNotifier(b bus.Bus, baseLog *logger.Logger) JobNotifier {
	return &jobNotifier{bus: b, log: baseLog.With("service", "JobNotifier")}
}

func (n *jobNotifier) emit(ev realtime.Event, data map[string]any) {
	if n == nil || n.bus == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg := realtime.Message{Channel: JobsChannel, Event: ev, At: time.Now().UTC(), Data: data}
	if err := n.bus.Publish(ctx, msg); err != nil {
		n.log.Warn("publish job event failed", "event", ev, "error", err)
	}
}

func (n *jobNotifier) JobCreated(job *types.JobRun) {
	if job == nil {
		return
	}
	n.emit(realtime.EventJobCreated, map[string]any{
		"job_id":   job.ID,
		"job_type": job.JobType,
		"entity":   job.EntityType,
	})
}

func (n *jobNotifier) JobProgress(job *types.JobRun, stage string, progress int, message string) {
	if job == nil {
		return
	}
	n.emit(realtime.EventJobProgress, map[string]any{
		"job_id":   job.ID,
		"job_type": job.JobType,
		"stage":    stage,
		"progress": progress,
		"message":  message,
	})
}

func (n *jobNotifier) JobFailed(job *types.JobRun, stage string, errorMessage string) {
	if job == nil {
		return
	}
	n.emit(realtime.EventJobFailed, map[string]any{
		"job_id":   job.ID,
		"job_type": job.JobType,
		"stage":    stage,
		"error":    errorMessage,
	})
}

func (n *jobNotifier) JobDone(job *types.JobRun) {
	if job == nil {
		return
	}
	n.emit(realtime.EventJobDone, map[string]any{
		"job_id":   job.ID,
		"job_type": job.JobType,
	})
}
