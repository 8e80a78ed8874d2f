package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"
)

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the shared structured logger used across the service.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// LogRequest emits one structured JSON log line. Lines carry a shared
// service tag and timestamp so signing, outbox and HTTP logs collate in
// the same pipeline.
func LogRequest(entry map[string]any) {
	if _, ok := entry["ts"]; !ok {
		entry["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if _, ok := entry["service"]; !ok {
		entry["service"] = "signato-api"
	}
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"service":"signato-api","level":"error","msg":"log marshal failed"}`)
		return
	}
	Logger().Println(string(data))
}
