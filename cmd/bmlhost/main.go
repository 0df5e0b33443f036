// Command bmlhost is the bml worker process. It takes the socket path to
// listen on as its only argument.
package main

import (
	"os"

	"github.com/machinefabric/bml-go/bmlhost"
)

func main() {
	os.Exit(bmlhost.Main(os.Args[1:], os.Stderr))
}
