package handlers

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"imagedetect/internal/apperrors"
	"imagedetect/internal/logger"
)

var logFiles = map[string]string{
	"info":    logger.InfoFile,
	"warning": logger.WarningFile,
	"error":   logger.ErrorFile,
}

// ShowLogsHandler serves the log file for the :level parameter.
func ShowLogsHandler(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		filename, ok := logFiles[c.Param("level")]
		if !ok {
			respondError(c, log, apperrors.NewNotFoundError("unknown log level", nil))
			return
		}

		filePath := filepath.Join(log.LogDir(), filename)
		if _, err := os.Stat(filePath); os.IsNotExist(err) || log.LogDir() == "" {
			c.String(http.StatusNotFound, "Log file not found: %s", filename)
			return
		}

		c.Header("Cache-Control", "no-cache")
		c.Header("Content-Type", "text/plain; charset=utf-8")
		c.File(filePath)
	}
}

// ClearLogsHandler truncates the log file for the :level parameter.
func ClearLogsHandler(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		filename, ok := logFiles[c.Param("level")]
		if !ok {
			respondError(c, log, apperrors.NewNotFoundError("unknown log level", nil))
			return
		}
		if err := log.CleanLogs(filename); err != nil {
			respondError(c, log, apperrors.NewInternalError("could not clear log", err))
			return
		}
		c.Status(http.StatusNoContent)
	}
}
