// Package logger provides structured logging for igrelay.
//
// It wraps zerolog behind the Logger interface so components can take a
// logger as a dependency and tests can swap in NewTestLogger or NewNopLogger.
// When a log file is configured, output is rotated by lumberjack using the
// max_size, max_backups, max_age and compress settings.
//
// Basic Usage:
//
//	if err := logger.Initialize(&cfg.Logging); err != nil {
//	    return err
//	}
//
//	logger.WithFields(map[string]interface{}{
//	    "chat_id":   chatID,
//	    "shortcode": shortcode,
//	}).Info("Relaying post")
package logger
