package tasks

import (
	"testing"

	"github.com/kabinh07/team-bot/internal/storage"
)

func TestCanComplete(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		creator string
		actor   string
		want    bool
	}{
		{"creator", "alice", "alice", true},
		{"other member", "alice", "bob", false},
		{"case sensitive", "alice", "Alice", false},
		{"full name identity", "Alice Smith", "Alice Smith", true},
		{"handle vs full name", "alice", "Alice Smith", false},
		{"empty actor", "alice", "", false},
		{"both empty", "", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			task := storage.Task{CreatedBy: tc.creator}
			if got := CanComplete(task, tc.actor); got != tc.want {
				t.Fatalf("CanComplete(creator=%q, actor=%q) = %v, want %v", tc.creator, tc.actor, got, tc.want)
			}
		})
	}
}
