package asserters

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/ormasoftchile/converge/pkg/script"
)

// commandRun runs a command to reach a state. The state counts as reached
// when the file named by creates exists, or when the check command exits
// zero. With neither, the command runs every time.
type commandRun struct {
	env     *Env
	command string
	args    []string
	check   string
	creates string
	output  string
	code    int
}

func (a *commandRun) Assert(ctx context.Context, assertion *script.Node) (bool, error) {
	args := newArgs(a.env, assertion)
	var err error
	if a.command, err = args.str("command", true); err != nil {
		return false, err
	}
	if a.args, err = args.strs("args"); err != nil {
		return false, err
	}
	if a.check, err = args.str("check", false); err != nil {
		return false, err
	}
	if a.creates, err = args.str("creates", false); err != nil {
		return false, err
	}

	switch {
	case a.creates != "":
		err := a.env.Privilege.Do(func() error {
			_, err := os.Stat(a.creates)
			return err
		})
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("stat %s: %w", a.creates, err)
		}
		return true, nil
	case a.check != "":
		res, err := a.env.Executor.Execute(ctx, "sh", []string{"-c", a.check}, nil, a.env.Privilege)
		if err != nil {
			return false, err
		}
		return res.ExitCode == 0, nil
	default:
		return false, nil
	}
}

func (a *commandRun) Rectify(ctx context.Context) error {
	res, err := a.env.Executor.Execute(ctx, a.command, a.args, nil, a.env.Privilege)
	if err != nil {
		return err
	}
	a.code = res.ExitCode
	a.output = strings.TrimSpace(string(res.Stdout))
	if res.ExitCode != 0 {
		return fmt.Errorf("command %q exited with code %d: %s", a.command, res.ExitCode, strings.TrimSpace(string(res.Stderr)))
	}
	return nil
}

func (a *commandRun) Result(rectified bool) any {
	r := map[string]any{"command": a.command}
	if rectified {
		r["exitCode"] = a.code
		r["output"] = a.output
	}
	return r
}
