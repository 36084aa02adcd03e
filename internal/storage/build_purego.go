//go:build !sqlite_cgo
// +build !sqlite_cgo

package storage

// This file is compiled by default. It uses the pure Go SQLite
// implementation, so no C compiler is required.
//
// Build command:
//   CGO_ENABLED=0 go build ./...
//
// Driver used: modernc.org/sqlite

import (
	"database/sql/driver"
	"fmt"

	"modernc.org/sqlite"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite"

	// BuildMode describes the current build configuration
	BuildMode = "purego"
)

func init() {
	for name, fn := range unaryFunctions {
		fn := fn
		err := sqlite.RegisterDeterministicScalarFunction(name, 1,
			func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
				return fn(textArg(args[0])), nil
			})
		if err != nil {
			panic(fmt.Sprintf("failed to register %s: %v", name, err))
		}
	}
	for name, fn := range binaryFunctions {
		fn := fn
		err := sqlite.RegisterDeterministicScalarFunction(name, 2,
			func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
				return fn(textArg(args[0]), textArg(args[1])), nil
			})
		if err != nil {
			panic(fmt.Sprintf("failed to register %s: %v", name, err))
		}
	}
}
