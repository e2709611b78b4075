// Default CLI package. To customize, copy this file to a new unique package
// and provide config overrides (teacher idiom: xtemplate's cmd/main.go).
package main

import (
	"github.com/infogulch/compose"
)

func main() {
	compose.Main()
}
