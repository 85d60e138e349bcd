// Package id generates stable client identifiers.
package id

import (
	"fmt"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/denisbrodbeck/machineid"
)

// ClientID builds an identifier the proxy can attribute a stream to in
// its own logs and monitor output. The ID is stable for one process on
// one machine: hostname, a hashed machine fingerprint and the pid.
func ClientID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	mid, err := machineid.ProtectedID("logtide")
	if err != nil {
		// No machine fingerprint available; hostname and pid still keep
		// concurrent clients apart.
		return fmt.Sprintf("%s_%d", host, os.Getpid())
	}
	return fmt.Sprintf("%s_%06x_%d", host, xxhash.Sum64String(mid)&0xFFFFFF, os.Getpid())
}
