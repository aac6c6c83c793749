// Package logging configures logrus for the codex bridge and provides Gin
// middleware for request logging, request ids and panic recovery.
package logging

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CodexBridge/internal/util"
	log "github.com/sirupsen/logrus"
)

// trackedPrefixes are the API paths that receive a request id.
var trackedPrefixes = []string{
	"/v1/chat/completions",
	"/v1/responses",
	"/v1/models",
}

const skipGinLogKey = "__gin_skip_request_logging__"

// GinLogrusLogger logs one line per request. Model API requests get a
// request id, taken from X-Request-Id when the caller sent one, stored in
// both contexts and echoed back in the response header.
//
// Output: [2025-12-23 20:14:10] [a1b2c3d4] [info ] 200 |       23.559s |       127.0.0.1 | POST    "/v1/responses"
func GinLogrusLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := assignRequestID(c)

		c.Next()

		if shouldSkipGinRequestLogging(c) {
			return
		}

		target := c.Request.URL.Path
		if query := util.MaskSensitiveQuery(c.Request.URL.RawQuery); query != "" {
			target += "?" + query
		}
		status := c.Writer.Status()
		line := fmt.Sprintf("%3d | %13v | %15s | %-7s \"%s\"", status, roundLatency(time.Since(start)), c.ClientIP(), c.Request.Method, target)
		if private := c.Errors.ByType(gin.ErrorTypePrivate).String(); private != "" {
			line += " | " + private
		}

		entry := log.NewEntry(log.StandardLogger())
		if requestID != "" {
			entry = entry.WithField("request_id", requestID)
		}
		entry.Log(levelForStatus(status), line)
	}
}

func assignRequestID(c *gin.Context) string {
	if !isTrackedPath(c.Request.URL.Path) {
		return ""
	}
	requestID := strings.TrimSpace(c.GetHeader(RequestIDHeader))
	if requestID == "" {
		requestID = GenerateRequestID()
	}
	SetGinRequestID(c, requestID)
	c.Request = c.Request.WithContext(WithRequestID(c.Request.Context(), requestID))
	c.Header(RequestIDHeader, requestID)
	return requestID
}

// roundLatency keeps long streamed responses readable.
func roundLatency(d time.Duration) time.Duration {
	if d > time.Minute {
		return d.Truncate(time.Second)
	}
	return d.Truncate(time.Millisecond)
}

func levelForStatus(status int) log.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return log.ErrorLevel
	case status >= http.StatusBadRequest:
		return log.WarnLevel
	default:
		return log.InfoLevel
	}
}

func isTrackedPath(path string) bool {
	for _, prefix := range trackedPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// GinLogrusRecovery turns handler panics into a logged 500.
// http.ErrAbortHandler is re-panicked so net/http can abort the connection.
func GinLogrusRecovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		if err, ok := recovered.(error); ok && errors.Is(err, http.ErrAbortHandler) {
			panic(http.ErrAbortHandler)
		}

		log.WithFields(log.Fields{
			"panic":      recovered,
			"stack":      string(debug.Stack()),
			"path":       c.Request.URL.Path,
			"request_id": GetGinRequestID(c),
		}).Error("recovered from panic")

		c.AbortWithStatus(http.StatusInternalServerError)
	})
}

// SkipGinRequestLogging marks the request so GinLogrusLogger emits nothing for it.
// Used for health probes and metrics scrapes.
func SkipGinRequestLogging(c *gin.Context) {
	if c != nil {
		c.Set(skipGinLogKey, true)
	}
}

func shouldSkipGinRequestLogging(c *gin.Context) bool {
	if c == nil {
		return false
	}
	skip, _ := c.Get(skipGinLogKey)
	flag, _ := skip.(bool)
	return flag
}
