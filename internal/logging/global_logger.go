package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CodexBridge/internal/config"
	"github.com/router-for-me/CodexBridge/internal/util"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	mainLogName     = "main.log"
	mainLogMaxSize  = 10 // megabytes per rotated file
	noRequestIDMark = "--------"
)

// logFieldOrder lists the fields printed after the message, in order.
// Anything else attached to an entry is dropped from the line.
var logFieldOrder = []string{"model", "family", "effort", "status", "tag", "backend", "key", "error"}

// output tracks where the standard logger currently writes.
type output struct {
	mu       sync.Mutex
	file     *lumberjack.Logger
	ginInfo  *io.PipeWriter
	ginError *io.PipeWriter
}

var (
	setupOnce sync.Once
	current   output
)

// LogFormatter renders entries as
// [2025-12-23 20:14:04] [a1b2c3d4] [debug] [tokenstore.go:88] refreshing access token model=gpt-5.1-codex
type LogFormatter struct{}

// Format renders a single log entry.
func (m *LogFormatter) Format(entry *log.Entry) ([]byte, error) {
	buffer := entry.Buffer
	if buffer == nil {
		buffer = &bytes.Buffer{}
	}

	reqID, _ := entry.Data["request_id"].(string)
	if reqID == "" {
		reqID = noRequestIDMark
	}
	level := entry.Level.String()
	if entry.Level == log.WarnLevel {
		level = "warn"
	}

	fmt.Fprintf(buffer, "[%s] [%s] [%-5s] ", entry.Time.Format("2006-01-02 15:04:05"), reqID, level)
	if entry.Caller != nil {
		fmt.Fprintf(buffer, "[%s:%d] ", filepath.Base(entry.Caller.File), entry.Caller.Line)
	}
	buffer.WriteString(strings.TrimRight(entry.Message, "\r\n"))
	for _, key := range logFieldOrder {
		if value, ok := entry.Data[key]; ok {
			fmt.Fprintf(buffer, " %s=%v", key, value)
		}
	}
	buffer.WriteByte('\n')
	return buffer.Bytes(), nil
}

// SetupBaseLogger installs the formatter and routes gin's writers through
// logrus. Only the first call has an effect.
func SetupBaseLogger() {
	setupOnce.Do(func() {
		log.SetOutput(os.Stdout)
		log.SetReportCaller(true)
		log.SetFormatter(&LogFormatter{})

		current.ginInfo = log.StandardLogger().Writer()
		current.ginError = log.StandardLogger().WriterLevel(log.ErrorLevel)
		gin.DefaultWriter = current.ginInfo
		gin.DefaultErrorWriter = current.ginError
		gin.DebugPrintFunc = func(format string, values ...interface{}) {
			log.StandardLogger().Infof(strings.TrimRight(format, "\r\n"), values...)
		}

		log.RegisterExitHandler(current.close)
	})
}

// ResolveLogDirectory returns WRITABLE_PATH/logs when set, otherwise ./logs.
// A read-only working directory moves the logs next to the credential in
// <auth-dir>/logs.
func ResolveLogDirectory(cfg *config.Config) string {
	if base := util.WritablePath(); base != "" {
		return filepath.Join(base, "logs")
	}
	const localDir = "logs"
	if cfg == nil || isDirWritable(localDir) {
		return localDir
	}
	authDir, err := util.ResolveAuthDir(cfg.AuthDir)
	if err != nil || authDir == "" {
		if err != nil {
			log.Warnf("failed to resolve auth-dir %q for logs: %v", cfg.AuthDir, err)
		}
		return localDir
	}
	return filepath.Join(authDir, "logs")
}

// ConfigureLogOutput applies logging-to-file, the log level and the log
// directory size cap. It runs at startup and after every config reload.
func ConfigureLogOutput(cfg *config.Config) error {
	SetupBaseLogger()
	util.SetLogLevel(cfg)

	current.mu.Lock()
	defer current.mu.Unlock()

	logDir := ResolveLogDirectory(cfg)
	active := ""
	if cfg.LoggingToFile {
		path, err := current.useFileLocked(logDir)
		if err != nil {
			return err
		}
		active = path
	} else {
		current.useStdoutLocked()
	}

	configureLogDirCleanerLocked(logDir, cfg.LogsMaxTotalSizeMB, active)
	return nil
}

func (o *output) useFileLocked(logDir string) (string, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return "", fmt.Errorf("logging: failed to create log directory: %w", err)
	}
	path := filepath.Join(logDir, mainLogName)
	if o.file != nil && o.file.Filename == path {
		return path, nil
	}
	o.closeFileLocked()
	o.file = &lumberjack.Logger{Filename: path, MaxSize: mainLogMaxSize, LocalTime: true}
	log.SetOutput(o.file)
	return path, nil
}

func (o *output) useStdoutLocked() {
	o.closeFileLocked()
	log.SetOutput(os.Stdout)
}

func (o *output) closeFileLocked() {
	if o.file != nil {
		_ = o.file.Close()
		o.file = nil
	}
}

func (o *output) close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	stopLogDirCleanerLocked()
	o.closeFileLocked()
	for _, w := range []**io.PipeWriter{&o.ginInfo, &o.ginError} {
		if *w != nil {
			_ = (*w).Close()
			*w = nil
		}
	}
}

func isDirWritable(dir string) bool {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return false
	}
	probe, err := os.CreateTemp(dir, ".perm_test")
	if err != nil {
		return false
	}
	_ = probe.Close()
	_ = os.Remove(probe.Name())
	return true
}
