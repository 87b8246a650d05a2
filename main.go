// The main package for the pricewatch executable.
package main

import (
	"github.com/JakeFAU/pricewatch/cmd"
)

func main() {
	cmd.Execute()
}
