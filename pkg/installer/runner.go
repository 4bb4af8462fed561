package installer

import (
	"bytes"
	"context"
	"net/url"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/smoothdeps/pkg/source"
)

// DefaultCommandTimeout bounds one package manager run.
const DefaultCommandTimeout = 10 * time.Minute

// Command is one package manager invocation.
type Command struct {
	Name string
	Args []string
	Dir  string
}

// Argv returns the command line.
func (c Command) Argv() []string { return append([]string{c.Name}, c.Args...) }

// Runner executes package manager commands and returns their combined
// output.
type Runner interface {
	Run(ctx context.Context, cmd Command) ([]byte, error)
}

// ExecRunner runs commands as subprocesses. Cancelling ctx kills the
// process.
type ExecRunner struct {
	Timeout time.Duration // Per command; zero uses DefaultCommandTimeout
	Logger  *log.Logger
}

func (r ExecRunner) Run(ctx context.Context, cmd Command) ([]byte, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	c.WaitDelay = 5 * time.Second

	var out bytes.Buffer
	c.Stdout = &out
	c.Stderr = &out

	if r.Logger != nil {
		r.Logger.Debug("exec", "argv", cmd.Argv(), "dir", cmd.Dir)
	}
	err := c.Run()
	if ctx.Err() != nil && err != nil {
		return out.Bytes(), ctx.Err()
	}
	return out.Bytes(), err
}

// Commands holds the package manager entry points.
type Commands struct {
	Pip []string // Default: python3 -m pip
	Npm []string // Default: npm
}

// DefaultCommands returns the stock entry points.
func DefaultCommands() Commands {
	return Commands{
		Pip: []string{"python3", "-m", "pip"},
		Npm: []string{"npm"},
	}
}

func (c Commands) base(kind source.Kind) []string {
	if kind == source.KindNpm {
		if len(c.Npm) > 0 {
			return c.Npm
		}
		return DefaultCommands().Npm
	}
	if len(c.Pip) > 0 {
		return c.Pip
	}
	return DefaultCommands().Pip
}

func (c Commands) build(kind source.Kind, dir string, args ...string) Command {
	base := c.base(kind)
	return Command{Name: base[0], Args: append(append([]string{}, base[1:]...), args...), Dir: dir}
}

// Install builds the command that installs target from src. npm targets
// are registry specs ("left-pad@1.3.0"), saved to package.json the way a
// plain npm install saves them; pip targets are files or requirements.
func (c Commands) Install(req Request, target string, src source.Source) Command {
	if req.Kind == source.KindNpm {
		return c.build(req.Kind, req.Dir, "install", target, "--registry", src.BaseURL()+"/", "--no-audit", "--no-fund")
	}

	args := append([]string{"install", target}, pipIndex(src)...)
	if req.NoDeps {
		args = append(args, "--no-deps")
	}
	return c.build(req.Kind, req.Dir, args...)
}

// Download builds the pip command that saves target and everything it
// depends on into dir, for the artifact cache.
func (c Commands) Download(req Request, target string, src source.Source, dir string) Command {
	args := append([]string{"download", target, "-d", dir}, pipIndex(src)...)
	if req.NoDeps {
		args = append(args, "--no-deps")
	}
	return c.build(source.KindPip, req.Dir, args...)
}

func pipIndex(src source.Source) []string {
	args := []string{"-i", src.BaseURL() + "/", "--disable-pip-version-check"}
	if u, err := url.Parse(src.URL); err == nil && u.Scheme == "http" {
		args = append(args, "--trusted-host", u.Hostname())
	}
	return args
}

// Offline builds the command that installs a cached file without touching
// any index. requires are the cached files of its dependencies: pip finds
// them through --find-links, npm installs them alongside. npm installs from
// files are never saved to package.json.
func (c Commands) Offline(req Request, file string, requires []string) Command {
	if req.Kind == source.KindNpm {
		args := append([]string{"install", file}, requires...)
		args = append(args, "--offline", "--no-save", "--no-audit", "--no-fund")
		return c.build(req.Kind, req.Dir, args...)
	}

	args := []string{"install", file, "--no-index"}
	seen := map[string]bool{}
	for _, f := range append([]string{file}, requires...) {
		dir := filepath.Dir(f)
		if !seen[dir] {
			seen[dir] = true
			args = append(args, "--find-links", dir)
		}
	}
	args = append(args, "--disable-pip-version-check")
	if req.NoDeps {
		args = append(args, "--no-deps")
	}
	return c.build(req.Kind, req.Dir, args...)
}

// Tree builds the npm command that prints the installed dependency tree of
// name as JSON.
func (c Commands) Tree(req Request, name string) Command {
	return c.build(source.KindNpm, req.Dir, "ls", name, "--json", "--all")
}

// Uninstall builds the command that removes names. npm also drops them
// from package.json.
func (c Commands) Uninstall(kind source.Kind, dir string, names ...string) Command {
	if kind == source.KindNpm {
		return c.build(kind, dir, append(append([]string{"uninstall"}, names...), "--no-audit", "--no-fund")...)
	}
	return c.build(kind, dir, append(append([]string{"uninstall", "-y"}, names...), "--disable-pip-version-check")...)
}

// PipVersion builds the command whose output names pip's interpreter.
func (c Commands) PipVersion() Command {
	return c.build(source.KindPip, "", "--version")
}
