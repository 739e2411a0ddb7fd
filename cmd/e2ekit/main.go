// Command e2ekit provisions isolated end-to-end test environments and
// drives them from the shell.
package main

import "github.com/kbukum/e2ekit/cmd/e2ekit/cmd"

func main() {
	cmd.Execute()
}
