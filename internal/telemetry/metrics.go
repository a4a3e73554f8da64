package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики Conveyor. Регистрируются в глобальном реестре prometheus,
// экспортируются каждым сервисом на /metrics.
var (
	// RunsStarted — количество запущенных runs по pipeline.
	RunsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conveyor_runs_started_total",
		Help: "Number of pipeline runs started",
	}, []string{"pipeline"})

	// RunsFinished — количество завершённых runs по pipeline и статусу.
	RunsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conveyor_runs_finished_total",
		Help: "Number of pipeline runs finished",
	}, []string{"pipeline", "status"})

	// RunDuration — длительность runs в секундах.
	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "conveyor_run_duration_seconds",
		Help:    "Pipeline run duration",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 14), // 0.1s .. ~13m
	}, []string{"pipeline"})

	// JobsFinished — количество завершённых job-инстансов по статусу.
	JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conveyor_jobs_finished_total",
		Help: "Number of job instances finished",
	}, []string{"status"})

	// JobDuration — длительность выполнения job-инстансов в секундах.
	JobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "conveyor_job_duration_seconds",
		Help:    "Job instance execution duration",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
	})

	// JobsInFlight — количество job-инстансов, выполняемых сейчас.
	JobsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "conveyor_jobs_in_flight",
		Help: "Number of job instances currently executing",
	})

	// SchedulesFired — количество сработавших расписаний.
	SchedulesFired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conveyor_schedules_fired_total",
		Help: "Number of schedule triggers fired",
	})
)
