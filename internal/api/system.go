package api

import (
	"errors"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"

	"github.com/slipstream/indexarr/internal/logger"
	"github.com/slipstream/indexarr/internal/scheduler"
)

// taskHandlers handles scheduler-related API requests.
type taskHandlers struct {
	scheduler *scheduler.Scheduler
}

func newTaskHandlers(sched *scheduler.Scheduler) *taskHandlers {
	return &taskHandlers{scheduler: sched}
}

func (h *taskHandlers) RegisterRoutes(g *echo.Group) {
	g.GET("", h.ListTasks)
	g.GET("/:id", h.GetTask)
	g.POST("/:id/run", h.RunTask)
}

// ListTasks returns all scheduled tasks.
// GET /api/v1/system/tasks
func (h *taskHandlers) ListTasks(c echo.Context) error {
	return c.JSON(http.StatusOK, h.scheduler.ListTasks())
}

// GetTask returns information about a specific task.
// GET /api/v1/system/tasks/:id
func (h *taskHandlers) GetTask(c echo.Context) error {
	task, err := h.scheduler.GetTask(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, task)
}

// RunTask manually triggers a task to run.
// POST /api/v1/system/tasks/:id/run
func (h *taskHandlers) RunTask(c echo.Context) error {
	taskID := c.Param("id")
	if err := h.scheduler.RunNow(taskID); err != nil {
		switch {
		case errors.Is(err, scheduler.ErrTaskNotFound):
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		case errors.Is(err, scheduler.ErrTaskRunning):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.JSON(http.StatusAccepted, map[string]string{
		"message": "Task started",
		"taskId":  taskID,
	})
}

// logHandlers serves the in-memory log buffer and the log file.
type logHandlers struct {
	recent  *logger.Recent
	logFile string
}

func newLogHandlers(recent *logger.Recent, logFile string) *logHandlers {
	return &logHandlers{recent: recent, logFile: logFile}
}

func (h *logHandlers) RegisterRoutes(g *echo.Group) {
	g.GET("", h.GetRecentLogs)
	g.GET("/download", h.DownloadLogFile)
}

// GetRecentLogs returns buffered entries at or above ?level= (default info).
// GET /api/v1/system/logs
func (h *logHandlers) GetRecentLogs(c echo.Context) error {
	if h.recent == nil {
		return c.JSON(http.StatusOK, []logger.Entry{})
	}
	level := c.QueryParam("level")
	if level == "" {
		level = "info"
	}
	return c.JSON(http.StatusOK, h.recent.Entries(logger.ParseLevel(level)))
}

// DownloadLogFile serves the current log file for download.
// GET /api/v1/system/logs/download
func (h *logHandlers) DownloadLogFile(c echo.Context) error {
	if h.logFile == "" {
		return echo.NewHTTPError(http.StatusNotFound, "no log file configured")
	}
	if _, err := os.Stat(h.logFile); os.IsNotExist(err) {
		return echo.NewHTTPError(http.StatusNotFound, "log file not found")
	}
	return c.Attachment(h.logFile, "indexarr.log")
}
