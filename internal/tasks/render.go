package tasks

import (
	"fmt"
	"strings"

	"github.com/kabinh07/team-bot/internal/storage"
)

// FormatTaskLine renders one listing entry.
//
//	1. buy milk - pending - alice
//	2. ship release - done (2h15m3s) - bob
func FormatTaskLine(ordinal int, t storage.Task) string {
	if t.Status == storage.TaskDone && t.Duration != "" {
		return fmt.Sprintf("%d. %s - %s (%s) - %s", ordinal, t.Description, t.Status, t.Duration, t.CreatedBy)
	}
	return fmt.Sprintf("%d. %s - %s - %s", ordinal, t.Description, t.Status, t.CreatedBy)
}

// FormatTaskList renders the ordinal-numbered listing, one task per line.
func FormatTaskList(ts []storage.Task) string {
	lines := make([]string, 0, len(ts))
	for i, t := range ts {
		lines = append(lines, FormatTaskLine(i+1, t))
	}
	return strings.Join(lines, "\n")
}
