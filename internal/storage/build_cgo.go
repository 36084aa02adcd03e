//go:build sqlite_cgo
// +build sqlite_cgo

package storage

// This file is compiled when building with CGO and the sqlite_cgo tag.
//
// Build command:
//   CGO_ENABLED=1 go build -tags "sqlite_cgo" ./...
//
// Driver used: github.com/mattn/go-sqlite3, registered under its own name
// so the search functions are installed by a ConnectHook on every connection.

import (
	"database/sql"

	"github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite3_stopsearch"

	// BuildMode describes the current build configuration
	BuildMode = "cgo"
)

func init() {
	sql.Register(DriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			for name, fn := range unaryFunctions {
				fn := fn
				if err := conn.RegisterFunc(name, func(v interface{}) string {
					return fn(textArg(v))
				}, true); err != nil {
					return err
				}
			}
			for name, fn := range binaryFunctions {
				fn := fn
				if err := conn.RegisterFunc(name, func(a, b interface{}) float64 {
					return fn(textArg(a), textArg(b))
				}, true); err != nil {
					return err
				}
			}
			return nil
		},
	})
}
