package storage

// Package storage provides the persistence layer used by the bot.
//
// It currently holds:
//   - The guild member roster (accumulated from observed updates)
//   - The direct-message delivery log (duplicate-check window)
//   - Broadcast audit rows
