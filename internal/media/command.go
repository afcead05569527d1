package media

import (
	"strconv"
	"strings"
)

// Command builds an argument list for an external tool. Arguments are never
// joined into a shell string, so paths need no quoting.
type Command struct {
	name string
	args []string
}

// NewCommand starts a command for the named binary.
func NewCommand(name string) *Command {
	return &Command{name: name}
}

// Flag appends an option followed by its values, e.g. Flag("-c:a", "copy").
func (c *Command) Flag(option string, values ...string) *Command {
	c.args = append(c.args, option)
	c.args = append(c.args, values...)
	return c
}

// Append appends raw arguments.
func (c *Command) Append(args ...string) *Command {
	c.args = append(c.args, args...)
	return c
}

// Input appends "-i path".
func (c *Command) Input(path string) *Command {
	return c.Flag("-i", safePath(path))
}

// Output appends the output path. It must be the last argument.
func (c *Command) Output(path string) *Command {
	c.args = append(c.args, safePath(path))
	return c
}

// Name returns the binary name.
func (c *Command) Name() string {
	return c.name
}

// Args returns a copy of the argument list.
func (c *Command) Args() []string {
	out := make([]string, len(c.args))
	copy(out, c.args)
	return out
}

// String renders the command for logs only.
func (c *Command) String() string {
	parts := make([]string, 0, len(c.args)+1)
	parts = append(parts, c.name)
	for _, a := range c.args {
		if strings.ContainsAny(a, " '\"\t\n|;&$") {
			a = strconv.Quote(a)
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

// safePath keeps a relative path that starts with '-' from being read as an
// option.
func safePath(path string) string {
	if strings.HasPrefix(path, "-") {
		return "./" + path
	}
	return path
}
