package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var ArchiveJobsStarted = promauto.NewCounter(prometheus.CounterOpts{
	Name: "archive_jobs_started_total",
	Help: "Archive build jobs started, both sync and background",
})

var ArchiveJobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "archive_jobs_finished_total",
	Help: "Archive build jobs finished, partitioned by outcome",
}, []string{"outcome"})

var FilesArchived = promauto.NewCounter(prometheus.CounterOpts{
	Name: "archive_files_total",
	Help: "Files fetched and appended to archives",
})

var ArchiveBytes = promauto.NewCounter(prometheus.CounterOpts{
	Name: "archive_bytes_total",
	Help: "Sealed archive bytes produced",
})
