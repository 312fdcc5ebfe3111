// Package events emits optional event-class log lines. Operational events
// (federation results, push delivery results) are noisy, so each class must
// be enabled explicitly in the configuration.
package events

import "log"

const (
	HostChangesSubscription = "host-changes-subscription"
	UserPushNotification    = "user-push-notification"
)

type Logger struct {
	enabled map[string]bool
}

// NewLogger returns a logger emitting only the given event classes. A nil
// logger is valid and emits nothing.
func NewLogger(classes []string) *Logger {
	enabled := make(map[string]bool, len(classes))
	for _, c := range classes {
		enabled[c] = true
	}
	return &Logger{enabled: enabled}
}

func (l *Logger) Log(class, format string, args ...any) {
	if l == nil || !l.enabled[class] {
		return
	}
	log.Printf(class+" | "+format, args...)
}
