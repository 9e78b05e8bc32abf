package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

type Level int

const (
	INFO Level = iota
	WARN
	ERROR
	DEBUG
)

var (
	// ANSI colors
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorGray   = "\033[90m"
	colorCyan   = "\033[36m"

	mu  sync.Mutex
	out io.Writer = os.Stdout

	debugEnabled bool
)

// Init sets up the logger from the environment.
func Init() {
	if os.Getenv("NO_COLOR") != "" {
		DisableColors()
	}
	if os.Getenv("LOG_DEBUG") != "" {
		debugEnabled = true
	}
}

// EnableDebug turns on DEBUG level output.
func EnableDebug() {
	debugEnabled = true
}

func DisableColors() {
	colorReset = ""
	colorRed = ""
	colorGreen = ""
	colorYellow = ""
	colorGray = ""
	colorCyan = ""
}

// SetOutput redirects log output, mainly for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

func log(level Level, component string, format string, args ...interface{}) {
	if level == DEBUG && !debugEnabled {
		return
	}

	now := time.Now().Format("15:04:05")
	msg := fmt.Sprintf(format, args...)

	var levelStr string
	var color string

	switch level {
	case INFO:
		levelStr = "INFO"
		color = colorGreen
	case WARN:
		levelStr = "WARN"
		color = colorYellow
	case ERROR:
		levelStr = "ERROR"
		color = colorRed
	case DEBUG:
		levelStr = "DEBUG"
		color = colorGray
	}

	line := fmt.Sprintf("%s[%s]%s %s[%s]%s %s[%s]%s: %s\n",
		colorGray, now, colorReset,
		color, levelStr, colorReset,
		colorCyan, component, colorReset,
		msg,
	)

	mu.Lock()
	fmt.Fprint(out, line)
	mu.Unlock()
}

func Info(component string, format string, args ...interface{}) {
	log(INFO, component, format, args...)
}

func Warn(component string, format string, args ...interface{}) {
	log(WARN, component, format, args...)
}

func Error(component string, format string, args ...interface{}) {
	log(ERROR, component, format, args...)
}

func Debug(component string, format string, args ...interface{}) {
	log(DEBUG, component, format, args...)
}
