package proc

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"
)

// RunBlocking runs argv to completion and returns the decoded stdout and
// stderr. A non-zero exit code is an error carrying the stderr text;
// non-empty stderr with a zero exit code is a correct exit.
func RunBlocking(argv ...string) (string, string, error) {
	if len(argv) == 0 {
		return "", "", fmt.Errorf("proc: empty command")
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out, errOut := stdout.String(), stderr.String()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			msg := strings.ReplaceAll(errOut, "\n", " ")
			if msg == "" {
				msg = "no error message"
			}
			return out, errOut, fmt.Errorf("proc: %q exited with %d: %s",
				argv[0], exitErr.ExitCode(), strings.TrimSpace(msg))
		}
		return out, errOut, fmt.Errorf("proc: run %q: %w", strings.Join(argv, " "), err)
	}

	return out, errOut, nil
}
