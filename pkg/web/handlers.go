package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/ghzip/github-zip-server/pkg/archive"
	"github.com/ghzip/github-zip-server/pkg/cache"
	"github.com/ghzip/github-zip-server/pkg/e"
	"github.com/ghzip/github-zip-server/pkg/github"
	"github.com/ghzip/github-zip-server/pkg/metrics"
	"github.com/ghzip/github-zip-server/pkg/s"
	"github.com/ghzip/github-zip-server/pkg/scanner"
	"github.com/ghzip/github-zip-server/pkg/storage"
	"github.com/ghzip/github-zip-server/pkg/task"
	"github.com/ghzip/github-zip-server/pkg/utils"
)

// Config carries the per-job tuning the handlers hand to each build.
type Config struct {
	DefaultToken   string
	CacheTTL       time.Duration
	Workers        int
	DirConcurrency int
	QueueSize      int
	StorageTTLDays int

	// APIBaseURL points the GitHub client elsewhere, used by tests.
	APIBaseURL string
}

type Handlers struct {
	Storage storage.Backend // nil disables uploads, archives are streamed
	Tasks   *task.Supervisor
	Config  Config
	Debug   bool
}

// newPipeline wires a fresh client/scanner/pipeline trio for one job. One
// GitHub client per job and credential keeps cache and rate-limit state
// scoped, never process-wide.
func (h *Handlers) newPipeline(token string) *archive.Pipeline {
	opts := []github.Option{}
	if h.Config.APIBaseURL != "" {
		opts = append(opts, github.WithBaseURL(h.Config.APIBaseURL))
	}
	client := github.New(token, cache.New(h.Config.CacheTTL), opts...)
	sc := scanner.New(client, h.Config.DirConcurrency)
	return archive.New(sc, client, h.Config.Workers, h.Config.QueueSize)
}

// resolveToken applies the credential precedence: Authorization header,
// then token query parameter, then the configured default.
func (h *Handlers) resolveToken(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if token := c.Query("token"); token != "" {
		return token
	}
	return h.Config.DefaultToken
}

// ArchiveFilename builds {owner}_{repo}_{lastSegment-or-repo}_{unix}.zip.
func ArchiveFilename(owner, repo, folderPath string, now time.Time) string {
	folderName := repo
	if trimmed := strings.Trim(folderPath, "/"); trimmed != "" {
		parts := strings.Split(trimmed, "/")
		folderName = parts[len(parts)-1]
	}
	return fmt.Sprintf("%s_%s_%s_%d.zip", owner, repo, folderName, now.Unix())
}

// DownloadFolder handles GET /api/github/download-folder. Sync requests
// stream or link the sealed archive; background=true submits a task.
func (h *Handlers) DownloadFolder(c *gin.Context) {
	owner := c.Query("owner")
	repo := c.Query("repo")
	if owner == "" || repo == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing owner or repo query parameter"})
		return
	}
	folderPath := c.Query("folder_path")
	background := c.Query("background") == "true"

	token := h.resolveToken(c)
	filename := ArchiveFilename(owner, repo, folderPath, time.Now())
	pipeline := h.newPipeline(token)

	metrics.ArchiveJobsStarted.Inc()

	if background {
		id := h.Tasks.Submit(filename, func(ctx context.Context, prog *archive.Progress) (task.Result, error) {
			data, err := pipeline.Build(ctx, owner, repo, folderPath, prog)
			if err != nil {
				metrics.ArchiveJobsFinished.WithLabelValues("failed").Inc()
				return task.Result{}, err
			}
			metrics.ArchiveJobsFinished.WithLabelValues("completed").Inc()
			metrics.FilesArchived.Add(float64(prog.Processed()))
			metrics.ArchiveBytes.Add(float64(len(data)))

			url := h.upload(owner, repo, filename, data)
			return task.Result{Data: data, URL: url}, nil
		})

		c.JSON(http.StatusAccepted, gin.H{
			"message":      "Download started in background",
			"task_id":      id,
			"status_url":   "/api/github/tasks/" + id,
			"download_url": "/api/github/downloads/" + id,
		})
		return
	}

	prog := &archive.Progress{}
	data, err := pipeline.Build(c.Request.Context(), owner, repo, folderPath, prog)
	if err != nil {
		metrics.ArchiveJobsFinished.WithLabelValues("failed").Inc()
		h.abortWithError(c, err)
		return
	}
	metrics.ArchiveJobsFinished.WithLabelValues("completed").Inc()
	metrics.FilesArchived.Add(float64(prog.Processed()))
	metrics.ArchiveBytes.Add(float64(len(data)))

	if url := h.upload(owner, repo, filename, data); url != "" {
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "ZIP file created and uploaded successfully",
			"data": s.DownloadResult{
				Filename:      filename,
				DownloadURL:   url,
				SizeBytes:     int64(len(data)),
				SizeFormatted: utils.FormatSize(int64(len(data))),
				ExpiresInDays: h.Config.StorageTTLDays,
				Source:        s.DownloadSource{Owner: owner, Repo: repo, FolderPath: folderPath},
			},
		})
		return
	}

	streamArchive(c, filename, data)
}

// upload pushes a sealed archive to object storage and returns its URL, or
// "" when storage is absent or the upload failed. Failure is non-fatal.
func (h *Handlers) upload(owner, repo, filename string, data []byte) string {
	if h.Storage == nil {
		return ""
	}

	key := fmt.Sprintf("%s/%s/%s/%s", storage.ArchiveKeyPrefix, owner, repo, filename)
	ttl := time.Duration(h.Config.StorageTTLDays) * 24 * time.Hour

	url, err := h.Storage.Put(key, data, "application/zip", ttl)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Storage upload failed, returning direct file response")
		return ""
	}
	return url
}

// TaskStatus handles GET /api/github/tasks/:taskid.
func (h *Handlers) TaskStatus(c *gin.Context) {
	info, err := h.Tasks.Status(c.Param("taskid"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}

	if info.Status == s.TaskCompleted && info.DownloadURL == "" {
		info.DownloadURL = "/api/github/downloads/" + info.ID
	}
	c.JSON(http.StatusOK, info)
}

// DownloadTask handles GET /api/github/downloads/:taskid, streaming the
// archive of a completed background task.
func (h *Handlers) DownloadTask(c *gin.Context) {
	data, filename, err := h.Tasks.ClaimResult(c.Param("taskid"))
	if err != nil {
		switch {
		case errors.Is(err, e.ErrTaskNotFinished):
			c.JSON(http.StatusNotFound, gin.H{"error": "task not completed"})
		default:
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		}
		return
	}

	streamArchive(c, filename, data)
}

// ArchivePath handles GET /archive/*key for backends that serve archives
// from this process.
func (h *Handlers) ArchivePath(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")

	if h.Storage == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}

	path, err := h.Storage.GetFilePath(key)
	if err != nil {
		if errors.Is(err, e.ErrNotFound) || errors.Is(err, e.ErrNotImplemented) {
			c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		} else {
			log.Error().Err(err).Msg("Failed to get file")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get file"})
		}
		return
	}

	c.File(path)
}

// Root handles GET /, a small service banner.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "Welcome to GitHub Folder ZIP API.",
		"features": []string{
			"Download folders from public GitHub repositories",
			"Access private repositories with a GitHub token",
			"Customize folder path to download specific directories",
		},
	})
}

func streamArchive(c *gin.Context, filename string, data []byte) {
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	c.Data(http.StatusOK, "application/zip", data)
}

// abortWithError maps the error taxonomy onto transport statuses. This is
// the only place that mapping lives.
func (h *Handlers) abortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch e.KindOf(err) {
	case e.KindAuthentication:
		status = http.StatusUnauthorized
	case e.KindRateLimit:
		status = http.StatusTooManyRequests
	case e.KindNotFound:
		status = http.StatusNotFound
	case e.KindPermission:
		status = http.StatusForbidden
	}

	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("Archive build failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
