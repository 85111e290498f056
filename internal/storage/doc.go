// Package storage is the persistence layer for the bot.
//
// It owns the Task lifecycle: rows are created pending, complete exactly once
// and are never deleted. It also keeps the notifier's dedup state so duplicate
// suppression survives restarts.
package storage
