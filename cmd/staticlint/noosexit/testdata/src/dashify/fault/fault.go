package fault

import "os"

type Dispatcher struct {
	exit func(int)
}

func New() *Dispatcher {
	return &Dispatcher{exit: os.Exit}
}

func (d *Dispatcher) Fail() {
	d.exit(1)
}
