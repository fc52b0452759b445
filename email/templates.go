package email

import (
	"arxiv-notifier/pkg/watcher"
	"fmt"
	"strings"
	"time"
)

const (
	bodyTimeLayout      = "2006-01-02 15:04:05"
	bodyTimeLayoutMicro = "2006-01-02 15:04:05.000000"
)

// formatBodyTime prints microseconds only when there are any.
func formatBodyTime(t time.Time) string {
	if t.Nanosecond()/1000 == 0 {
		return t.Format(bodyTimeLayout)
	}
	return t.Format(bodyTimeLayoutMicro)
}

func formatUpdateBody(change watcher.Change) string {
	var b strings.Builder
	b.WriteString("Page updated!\n")
	b.WriteString(fmt.Sprintf("Time: %s\n", formatBodyTime(change.Time)))
	b.WriteString(fmt.Sprintf("URL: %s\n", change.URL))
	b.WriteString(fmt.Sprintf("old: %s\n", watcher.FormatVersion(change.OldVersion)))
	b.WriteString(fmt.Sprintf("new: %s", watcher.FormatVersion(change.NewVersion)))
	return b.String()
}

func formatTestBody(change watcher.Change) string {
	var b strings.Builder
	b.WriteString("TEST MODE\n")
	b.WriteString(fmt.Sprintf("Time: %s\n", formatBodyTime(change.Time)))
	b.WriteString(fmt.Sprintf("URL: %s\n", change.URL))
	b.WriteString(fmt.Sprintf("old_ver: %s\n", watcher.FormatVersion(change.OldVersion)))
	b.WriteString(fmt.Sprintf("new_ver: %s", watcher.FormatVersion(change.NewVersion)))
	return b.String()
}
