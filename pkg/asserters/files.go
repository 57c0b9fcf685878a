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

type fileExists struct {
	env  *Env
	file string
	mode os.FileMode
}

func (a *fileExists) Assert(ctx context.Context, assertion *script.Node) (bool, error) {
	args := newArgs(a.env, assertion)
	var err error
	if a.file, err = args.str("file", true); err != nil {
		return false, err
	}
	if a.mode, err = args.mode("mode", 0o644); err != nil {
		return false, err
	}
	var info os.FileInfo
	err = a.env.Privilege.Do(func() (err error) {
		info, err = os.Stat(a.file)
		return err
	})
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", a.file, err)
	}
	if info.IsDir() {
		return false, fmt.Errorf("%s is a directory", a.file)
	}
	return true, nil
}

func (a *fileExists) Rectify(ctx context.Context) error {
	return a.env.Privilege.Do(func() error {
		f, err := os.OpenFile(a.file, os.O_CREATE|os.O_WRONLY, a.mode)
		if err != nil {
			return fmt.Errorf("create %s: %w", a.file, err)
		}
		return f.Close()
	})
}

func (a *fileExists) Result(rectified bool) any {
	return map[string]any{"file": a.file}
}

type fileDeleted struct {
	env  *Env
	file string
}

func (a *fileDeleted) Assert(ctx context.Context, assertion *script.Node) (bool, error) {
	var err error
	if a.file, err = newArgs(a.env, assertion).str("file", true); err != nil {
		return false, err
	}
	var info os.FileInfo
	err = a.env.Privilege.Do(func() (err error) {
		info, err = os.Lstat(a.file)
		return err
	})
	if errors.Is(err, fs.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", a.file, err)
	}
	if info.IsDir() {
		return false, fmt.Errorf("%s is a directory", a.file)
	}
	return false, nil
}

func (a *fileDeleted) Rectify(ctx context.Context) error {
	return a.env.Privilege.Do(func() error {
		if err := os.Remove(a.file); err != nil {
			return fmt.Errorf("remove %s: %w", a.file, err)
		}
		return nil
	})
}

func (a *fileDeleted) Result(rectified bool) any {
	return map[string]any{"file": a.file}
}

type directoryExists struct {
	env       *Env
	directory string
	mode      os.FileMode
}

func (a *directoryExists) Assert(ctx context.Context, assertion *script.Node) (bool, error) {
	args := newArgs(a.env, assertion)
	var err error
	if a.directory, err = args.str("directory", true); err != nil {
		return false, err
	}
	if a.mode, err = args.mode("mode", 0o755); err != nil {
		return false, err
	}
	var info os.FileInfo
	err = a.env.Privilege.Do(func() (err error) {
		info, err = os.Stat(a.directory)
		return err
	})
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", a.directory, err)
	}
	if !info.IsDir() {
		return false, fmt.Errorf("%s exists and is not a directory", a.directory)
	}
	return true, nil
}

func (a *directoryExists) Rectify(ctx context.Context) error {
	return a.env.Privilege.Do(func() error {
		if err := os.MkdirAll(a.directory, a.mode); err != nil {
			return fmt.Errorf("mkdir %s: %w", a.directory, err)
		}
		return nil
	})
}

func (a *directoryExists) Result(rectified bool) any {
	return map[string]any{"directory": a.directory}
}

// fileContains ensures a file holds a piece of text, appending it when
// missing.
type fileContains struct {
	env      *Env
	file     string
	contents string
	existing []byte
}

func (a *fileContains) Assert(ctx context.Context, assertion *script.Node) (bool, error) {
	args := newArgs(a.env, assertion)
	var err error
	if a.file, err = args.str("file", true); err != nil {
		return false, err
	}
	if a.contents, err = args.str("contents", true); err != nil {
		return false, err
	}
	err = a.env.Privilege.Do(func() (err error) {
		a.existing, err = os.ReadFile(a.file)
		return err
	})
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", a.file, err)
	}
	return strings.Contains(string(a.existing), a.contents), nil
}

func (a *fileContains) Rectify(ctx context.Context) error {
	var sb strings.Builder
	sb.Write(a.existing)
	if len(a.existing) > 0 && !strings.HasSuffix(string(a.existing), "\n") {
		sb.WriteByte('\n')
	}
	sb.WriteString(a.contents)
	return a.env.Privilege.Do(func() error {
		if err := os.WriteFile(a.file, []byte(sb.String()), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", a.file, err)
		}
		return nil
	})
}

func (a *fileContains) Result(rectified bool) any {
	return map[string]any{"file": a.file}
}
