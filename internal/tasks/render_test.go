package tasks

import (
	"testing"

	"github.com/kabinh07/team-bot/internal/storage"
)

func TestFormatTaskLine(t *testing.T) {
	t.Parallel()

	pending := storage.Task{Description: "buy milk", Status: storage.TaskPending, CreatedBy: "alice"}
	if got := FormatTaskLine(1, pending); got != "1. buy milk - pending - alice" {
		t.Fatalf("pending line = %q", got)
	}

	done := storage.Task{Description: "ship release", Status: storage.TaskDone, CreatedBy: "bob", Duration: "2h15m3s"}
	if got := FormatTaskLine(2, done); got != "2. ship release - done (2h15m3s) - bob" {
		t.Fatalf("done line = %q", got)
	}
}

func TestFormatTaskList(t *testing.T) {
	t.Parallel()
	ts := []storage.Task{
		{Description: "buy milk", Status: storage.TaskPending, CreatedBy: "alice"},
		{Description: "ship release", Status: storage.TaskDone, CreatedBy: "bob", Duration: "5s"},
	}
	want := "1. buy milk - pending - alice\n2. ship release - done (5s) - bob"
	if got := FormatTaskList(ts); got != want {
		t.Fatalf("list = %q, want %q", got, want)
	}
}
