// Package dblock serialises integration test packages that share one
// Postgres database. `go test ./...` runs packages in parallel, and each of
// them truncates the ledger tables.
package dblock

import (
	"net"
	"os"
	"time"
)

const (
	defaultLockAddr = "127.0.0.1:45432"
	retryInterval   = 50 * time.Millisecond
)

// Acquire blocks until this process holds the cross-process lock and
// returns the function that releases it. The lock is a bound TCP port, so
// it is dropped automatically if the test binary dies.
func Acquire() func() {
	addr := os.Getenv("LEDGER_TEST_LOCK_ADDR")
	if addr == "" {
		addr = defaultLockAddr
	}
	for {
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			return func() { _ = ln.Close() }
		}
		time.Sleep(retryInterval)
	}
}
