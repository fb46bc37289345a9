// Package alpnfix disables grpc-go's ALPN enforcement for ledger nodes that don't support it.
// Import with blank identifier before any grpc imports: _ "github.com/veridrop/veridrop/internal/alpnfix"
package alpnfix

import "os"

func init() {
	os.Setenv("GRPC_ENFORCE_ALPN_ENABLED", "false")
}
