// Package storage provides the optional audit log used by the bot.
//
// It never persists scheduled task or session state; both are in-memory
// only and do not survive a restart.
package storage
