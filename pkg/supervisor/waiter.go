package supervisor

import (
	"os"
)

type waitResult struct {
	ProcessState *os.ProcessState
	Err          error
}

// waitForProcess blocks on the process in a separate goroutine and reports its
// final state. The channel fires exactly once, for any kind of termination.
func waitForProcess(process *os.Process) <-chan waitResult {
	resultChan := make(chan waitResult, 1)

	go func() {
		processState, err := process.Wait()
		resultChan <- waitResult{processState, err}
	}()

	return resultChan
}
