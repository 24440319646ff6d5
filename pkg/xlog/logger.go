package xlog

import (
	"log"
	"os"
)

var logger = log.New(os.Stdout, "[DATAPLANE] ", log.LstdFlags)

var debugEnabled = os.Getenv("DATAPLANE_DEBUG") != ""

func Infof(format string, v ...interface{}) {
	logger.Printf("[INFO] "+format, v...)
}

func Errorf(format string, v ...interface{}) {
	logger.Printf("[ERROR] "+format, v...)
}

func Warnf(format string, v ...interface{}) {
	logger.Printf("[WARN] "+format, v...)
}

func Debugf(format string, v ...interface{}) {
	if !debugEnabled {
		return
	}
	logger.Printf("[DEBUG] "+format, v...)
}

func Fatalf(format string, v ...interface{}) {
	logger.Printf("[FATAL] "+format, v...)
	os.Exit(1)
}
