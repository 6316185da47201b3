package media

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"
)

// startupProbe is how long a capture process must survive before it
// counts as started. ffmpeg fails fast when a device or display is
// missing, so an early exit is the usual "no such camera" signal.
const startupProbe = 700 * time.Millisecond

// Runner launches capture processes. Output is discarded; ffmpeg's
// progress chatter would tear up the terminal UI.
type Runner struct {
	path string
}

func NewRunner(path string) *Runner {
	return &Runner{path: path}
}

// Start launches one capture process and returns a stop function. Stop
// is safe to call more than once.
func (r *Runner) Start(args []string) (func() error, error) {
	if r.path == "" {
		return nil, errors.New("ffmpeg path is required")
	}

	cmd := exec.Command(r.path, args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", r.path, err)
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	select {
	case err := <-waitCh:
		if err == nil {
			err = errors.New("process exited")
		}
		return nil, fmt.Errorf("capture exited early: %w", err)
	case <-time.After(startupProbe):
	}

	var once sync.Once
	stop := func() error {
		var stopErr error
		once.Do(func() {
			if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				stopErr = err
				return
			}
			<-waitCh
		})
		return stopErr
	}
	return stop, nil
}
