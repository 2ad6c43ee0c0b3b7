package app

import (
	"errors"
	"os"
)

var exit = os.Exit // want `os.Exit is not allowed in dashify/app`

func Stop(err error) {
	if errors.Is(err, os.ErrClosed) {
		return
	}
	os.Exit(2) // want `os.Exit is not allowed in dashify/app`
}

func Quit() {
	exit(1)
}
