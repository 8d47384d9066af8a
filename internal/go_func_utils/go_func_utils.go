package go_func_utils

import "runtime/debug"
import "log"

func SafeGo(logger *log.Logger, fn func()) {
	// the sync core runs a lot of goroutines and stderr usually points at a
	// rotated log file nobody is watching - capture the panic in our logger
	// before crashing out again...
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Printf("PANIC: %v\n%s", r, debug.Stack())
				panic(r)
			}
		}()
		fn()
	}()
}
