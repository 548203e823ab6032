package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var Logger *logrus.Logger

func init() {

	initLogger()

}

func initLogger() {
	Logger = logrus.New()
	Logger.SetLevel(levelFromEnv())
	Logger.SetFormatter(&logrus.TextFormatter{})
	Logger.SetOutput(os.Stdout)
}

// levelFromEnv reads log_level, falling back to info.
func levelFromEnv() logrus.Level {
	lvl, err := logrus.ParseLevel(os.Getenv("log_level"))
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// EnableFileOutput writes log lines to both stdout and the named file.
func EnableFileOutput(fname string) error {
	writerFile, err := os.OpenFile(fname, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	Logger.SetOutput(io.MultiWriter(os.Stdout, writerFile))
	return nil
}

func GetLogger() *logrus.Logger {
	return Logger
}
