package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) > 5 {
		fmt.Println("too many arguments")
		os.Exit(1) // want `os.Exit is not allowed in dashify/cmd/tool`
	}
}
