// Package storage provides a minimal persistence layer for the bridge.
//
// It currently archives one BatchReport per terminated batch so campaign
// history survives restarts. Drivers: file (JSONL) and sqlite.
package storage
