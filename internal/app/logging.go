package app

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/raphalvezz/loocac/internal/config"
	"github.com/raphalvezz/loocac/internal/logger"
)

// SetupLogging tees logs to stdout and app.log_path and opens the policy
// payload dump when enabled. The returned func closes the files.
func SetupLogging(cfg config.AppConfig) (func(), error) {
	var files []*os.File
	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}
	logFile, err := openLogFile(cfg.LogPath)
	if err != nil {
		return closeAll, err
	}
	if logFile != nil {
		files = append(files, logFile)
		mw := io.MultiWriter(os.Stdout, logFile)
		log.SetOutput(mw)
		logger.SetOutput(mw)
	}
	logger.SetLevel(cfg.LogLevel)

	logger.SetPolicyWriter(nil)
	if cfg.PolicyDump {
		f, err := openLogFile(cfg.PolicyLogPath)
		if err != nil {
			return closeAll, err
		}
		if f != nil {
			files = append(files, f)
			logger.SetPolicyWriter(f)
		}
	}
	logger.EnablePolicyPayloadDump(cfg.PolicyDump)
	return closeAll, nil
}

func openLogFile(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	if dir := filepath.Dir(trimmed); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}
