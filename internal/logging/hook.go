package logging

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dshills/negstation/internal/event"
)

// TopicLogRecord carries log entries for log panels.
var TopicLogRecord = event.NewKey[Record]("log-record")

// Record is one forwarded log entry.
type Record struct {
	Time    time.Time
	Level   logrus.Level
	Message string
	Fields  map[string]string
}

// BusHook publishes log entries at or above a level as Records.
type BusHook struct {
	pub    event.Publisher
	levels []logrus.Level
}

// NewBusHook forwards entries at min and more severe levels to pub.
func NewBusHook(pub event.Publisher, min logrus.Level) *BusHook {
	var levels []logrus.Level
	for _, l := range logrus.AllLevels {
		if l <= min {
			levels = append(levels, l)
		}
	}
	return &BusHook{pub: pub, levels: levels}
}

// Levels implements logrus.Hook.
func (h *BusHook) Levels() []logrus.Level {
	return h.levels
}

// Fire implements logrus.Hook. Entries about log record delivery are not
// forwarded, so a failing log subscriber cannot feed itself.
func (h *BusHook) Fire(entry *logrus.Entry) error {
	if t, ok := entry.Data["topic"]; ok && fmt.Sprint(t) == TopicLogRecord.String() {
		return nil
	}

	fields := make(map[string]string, len(entry.Data))
	for k, v := range entry.Data {
		if err, ok := v.(error); ok {
			fields[k] = err.Error()
			continue
		}
		fields[k] = fmt.Sprint(v)
	}

	event.Publish(h.pub, TopicLogRecord, Record{
		Time:    entry.Time,
		Level:   entry.Level,
		Message: entry.Message,
		Fields:  fields,
	})
	return nil
}
