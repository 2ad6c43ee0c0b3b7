package other

import "os"

func Bye() {
	os.Exit(0)
}
