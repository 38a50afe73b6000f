// Package database wraps GORM with connection retry, pool configuration
// and a zerolog-backed query logger. The SQL run store persists block runs
// through it.
//
//	db, err := database.Open(ctx, database.Config{DSN: "file:runs.db"}, log)
//	if err != nil { ... }
//	defer db.Close()
package database
