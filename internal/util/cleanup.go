package util

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"
)

// InterruptContext is cancelled on SIGINT or SIGTERM so running downloads
// can stop and clean up before the command returns.
func InterruptContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// CleanupUnfinishedTempFolders removes the _tmp chapter folders left in
// outputDir by an interrupted download.
func CleanupUnfinishedTempFolders(outputDir string, log *zap.Logger) {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return
	}

	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || !strings.HasSuffix(name, "_tmp") {
			continue
		}

		full := filepath.Join(outputDir, name)
		if err := os.RemoveAll(full); err != nil {
			log.Warn("cleanup failed", zap.String("dir", full), zap.Error(err))
			continue
		}
		log.Info("removed unfinished folder", zap.String("dir", full))
	}
}

func RemoveIfEmpty(dir string, log *zap.Logger) {
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) > 0 {
		return
	}
	if err := os.Remove(dir); err == nil {
		log.Info("removed empty output folder", zap.String("dir", dir))
	}
}

func CleanupFolder(folder string) {
	_ = os.RemoveAll(folder)
}
