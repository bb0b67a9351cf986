// Package utils
package utils

import (
	"log"
	"os"
	"sync"
)

var (
	logger *log.Logger
	once   sync.Once
)

// GetLogger returns the shared file logger. The file is created lazily on
// first use and appended to across restarts.
func GetLogger() *log.Logger {
	once.Do(func() {
		file, err := os.OpenFile("coinbase-trader.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			log.Fatal(err)
		}
		logger = log.New(file, "Coinbase Trader: ", log.LstdFlags)
	})
	return logger
}
