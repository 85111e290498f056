package tasks

import "github.com/kabinh07/team-bot/internal/storage"

// CanComplete reports whether actor may mark the task done. Tasks are
// personal commitments: only the creator completes their own task, even
// though any member of the chat can view or add tasks.
//
// The match is exact and case-sensitive on the resolved display identity
// (preferred handle, else full name). Pure; no I/O.
func CanComplete(t storage.Task, actor string) bool {
	return actor != "" && t.CreatedBy == actor
}
