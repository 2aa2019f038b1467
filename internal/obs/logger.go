package obs

import (
	"encoding/json"
	"io"
	"log"
	"os"
	"time"
)

// Logger writes one JSON object per line. A nil *Logger drops everything.
type Logger struct {
	l *log.Logger
}

func NewLogger() *Logger {
	return NewLoggerTo(os.Stdout)
}

func NewLoggerTo(w io.Writer) *Logger {
	return &Logger{
		l: log.New(w, "", 0),
	}
}

func (lg *Logger) Info(fields map[string]interface{}) {
	lg.write("info", fields)
}

func (lg *Logger) Warn(fields map[string]interface{}) {
	lg.write("warn", fields)
}

func (lg *Logger) Error(fields map[string]interface{}) {
	lg.write("error", fields)
}

func (lg *Logger) write(level string, fields map[string]interface{}) {
	if lg == nil {
		return
	}
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["level"] = level
	fields["ts"] = time.Now().UTC().Format(time.RFC3339Nano)

	b, err := json.Marshal(fields)
	if err != nil {
		b, _ = json.Marshal(map[string]interface{}{"level": "error", "op": "log", "error": err.Error()})
	}
	lg.l.Println(string(b))
}
