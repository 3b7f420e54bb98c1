// Command matrixbuild enumerates the valid firmware build configurations and
// compiles each of them on a pool of isolated workspaces.
package main

import "os"

func main() {
	os.Exit(Execute())
}
