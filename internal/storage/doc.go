// Package storage provides the persistence layer used by the bot.
//
// It stores:
//   - Bucketed key/value records (rpc endpoints and prefix assignments)
//   - An append-only audit log of operator actions
package storage
