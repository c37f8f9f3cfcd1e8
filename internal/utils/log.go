// Package utils
package utils

import (
	"log"
	"os"
	"sync"
)

const logFile = "omspy.log"

var (
	logger *log.Logger
	once   sync.Once
)

// GetLogger returns the shared audit logger appending to omspy.log.
// Microsecond stamps keep rapid peg re-prices distinguishable. When the
// file cannot be opened the logger degrades to stderr instead of killing
// the order manager over a log file.
func GetLogger() *log.Logger {
	once.Do(func() {
		flags := log.LstdFlags | log.Lmicroseconds
		file, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			logger = log.New(os.Stderr, "omspy: ", flags)
			logger.Printf("Falling back to stderr, cannot open %s: %v", logFile, err)
			return
		}
		logger = log.New(file, "omspy: ", flags)
	})
	return logger
}
