package main

import (
	"log"
	"os"

	_ "github.com/viant/scy/kms/blowfish"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}
