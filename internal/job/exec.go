package job

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	logx "agendawatch/pkg/logx"
)

const maxLogLine = 64 * 1024

// runCommand executes argv with the inherited environment plus extra, and
// streams stdout (info) and stderr (warn) into log line by line.
func runCommand(ctx context.Context, log logx.Logger, argv []string, dir string, extra []string) error {
	if len(argv) == 0 || argv[0] == "" {
		return errors.New("empty command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), extra...)
	cmd.WaitDelay = 5 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", argv[0], err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		streamLines(stdout, func(line string) { log.Info(line, logx.String("stream", "stdout")) })
	}()
	go func() {
		defer wg.Done()
		streamLines(stderr, func(line string) { log.Warn(line, logx.String("stream", "stderr")) })
	}()
	wg.Wait()

	err = cmd.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", argv[0], ctxErr)
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return fmt.Errorf("%s: exit status %d", argv[0], ee.ExitCode())
	}
	return err
}

func streamLines(r io.Reader, emit func(string)) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxLogLine)
	for sc.Scan() {
		if line := sc.Text(); line != "" {
			emit(line)
		}
	}
	// Drain whatever is left after an overlong line so the child never blocks.
	_, _ = io.Copy(io.Discard, r)
}
