package main

import (
	_ "github.com/veridrop/veridrop/internal/alpnfix" // Disable ALPN enforcement for ledger nodes that don't support it

	"github.com/veridrop/veridrop/cmd/veridrop"
)

func main() {
	veridrop.Execute()
}
