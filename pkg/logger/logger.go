package logger

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	log "github.com/sirupsen/logrus"
)

// LogFormatter log formatter structure
type LogFormatter struct {
	TimestampFormat string
	LevelDesc       []string
}

// Format format entry in custom format
func (f *LogFormatter) Format(entry *log.Entry) ([]byte, error) {
	timestamp := entry.Time.Format(f.TimestampFormat)
	level := f.LevelDesc[entry.Level]
	msg := fmt.Sprintf("%s [%s] %s\n", timestamp, level, entry.Message)
	return []byte(msg), nil
}

// createLogFolder creates a folder for logs based on the current date
func createLogFolder(logFile string) (string, error) {
	baseDir := filepath.Dir(logFile)
	now := time.Now()
	dateFolder := filepath.Join(baseDir, now.Format("2006-01-02"))
	err := os.MkdirAll(dateFolder, 0755)
	return dateFolder, err
}

// initializeLogRotation initializes log rotation with specified settings
func initializeLogRotation(logFile, dateFolder string, logFileMaxAge int) (*rotatelogs.RotateLogs, error) {
	return rotatelogs.New(
		fmt.Sprintf("%s/%%Y-%%m-%%d-%%H%s", dateFolder, filepath.Base(logFile)),
		rotatelogs.WithLinkName(fmt.Sprintf("%s/%s", dateFolder, filepath.Base(logFile))),
		rotatelogs.WithRotationTime(time.Hour),
		rotatelogs.WithMaxAge(time.Duration(logFileMaxAge)*24*time.Hour),
		rotatelogs.WithHandler(rotatelogs.HandlerFunc(func(e rotatelogs.Event) {
			if e.Type() != rotatelogs.FileRotatedEventType {
				return
			}
			// Compress the previous log file after rotation
			compressPreviousFile(e.(*rotatelogs.FileRotatedEvent).PreviousFile())
		})),
	)
}

// Init initializes the logger. Log level comes from LOG_LEVEL, output goes to
// stdout plus an hourly-rotated file tree under LOG_DIRECTORY.
func Init() {
	logFormatter := &LogFormatter{
		TimestampFormat: "2006-01-02 15:04:05.000",
		LevelDesc:       []string{"PANIC", "FATAL", "ERROR", "WARN", "INFO", "DEBUG", "TRACE"},
	}
	log.SetFormatter(logFormatter)

	if os.Getenv("LOG_LEVEL") == "DEBUG" {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}

	logDirectory := os.Getenv("LOG_DIRECTORY")
	if logDirectory == "" {
		logDirectory = "./logs"
	}

	logFileMaxAgeStr := os.Getenv("LOG_FILE_MAX_AGE")
	logFileMaxAge, err := strconv.Atoi(logFileMaxAgeStr)
	if err != nil || logFileMaxAge <= 0 {
		logFileMaxAge = 2 // Default max age in days
	}

	logFile := filepath.Join(logDirectory, ".log")
	dateFolder, err := createLogFolder(logFile)
	if err != nil {
		fmt.Println("Error creating log folder:", err)
		log.SetOutput(os.Stdout)
		return
	}

	rl, err := initializeLogRotation(logFile, dateFolder, logFileMaxAge)
	if err != nil {
		fmt.Println("Error initializing log rotation:", err)
		log.SetOutput(os.Stdout)
		return
	}
	log.SetOutput(io.MultiWriter(os.Stdout, rl))

	deleteOldLogFilesRoutine(logDirectory, logFileMaxAge)
}

// Info logs informational messages
func Info(message string) {
	log.Info(message)
}

// Error logs error messages
func Error(message string) {
	log.Error(message)
}

// Debug logs debug messages
func Debug(message string) {
	log.Debug(message)
}

// Warn logs warning messages
func Warn(message string) {
	log.Warn(message)
}

// Fatal logs fatal error and exits
func Fatal(message string) {
	log.Fatal(message)
}

// Infof logs formatted informational message
func Infof(format string, args ...interface{}) {
	log.Infof(format, args...)
}

// Errorf logs formatted error message
func Errorf(format string, args ...interface{}) {
	log.Errorf(format, args...)
}

// Debugf logs formatted debug message
func Debugf(format string, args ...interface{}) {
	log.Debugf(format, args...)
}

// Warnf logs formatted warning message
func Warnf(format string, args ...interface{}) {
	log.Warnf(format, args...)
}

// deleteOldLogFilesRoutine starts a routine to delete old log folders
func deleteOldLogFilesRoutine(logDirectory string, logFileMaxAge int) {
	go func() {
		for {
			deleteOldDateFolders(logDirectory, logFileMaxAge)
			time.Sleep(time.Hour)
		}
	}()
}

// deleteOldDateFolders deletes date folders older than the specified max age
func deleteOldDateFolders(baseDir string, maxAgeDays int) {
	cutoff := time.Now().Add(-time.Duration(maxAgeDays) * 24 * time.Hour)

	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.RemoveAll(filepath.Join(baseDir, entry.Name()))
		}
	}
}

// compressPreviousFile gzips a rotated log file and removes the original
func compressPreviousFile(path string) {
	if path == "" {
		return
	}
	src, err := os.Open(path)
	if err != nil {
		return
	}
	defer src.Close()

	dst, err := os.Create(path + ".gz")
	if err != nil {
		return
	}
	defer dst.Close()

	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		gz.Close()
		return
	}
	gz.Close()
	os.Remove(path)
}
