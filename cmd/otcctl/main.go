package main

import (
	"fmt"
	"os"

	"github.com/catalogfi/otc/pkg/otcctl"
)

var BinaryVersion = "undefined"

func main() {
	if err := otcctl.Run(BinaryVersion); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
