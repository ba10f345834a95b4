// mvm CLI - assembles, runs and inspects mvm programs
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/mattn/go-isatty"
	"github.com/tliron/commonlog"

	"github.com/chazu/mvm/manifest"

	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("mvm.cli")

// errUsage is returned by a verb whose arguments are wrong.
var errUsage = errors.New("invalid arguments")

// verbosity counts repeated -v flags.
type verbosity int

func (v *verbosity) String() string   { return strconv.Itoa(int(*v)) }
func (v *verbosity) IsBoolFlag() bool { return true }

func (v *verbosity) Set(s string) error {
	if s == "true" {
		*v++
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	*v = verbosity(n)
	return nil
}

// cli carries what every verb needs.
type cli struct {
	m      *manifest.Manifest
	stdout io.Writer
	color  bool
}

type verb struct {
	run   func(c *cli, args []string) error
	usage string
}

var verbs = map[string]verb{
	"run":    {runVerb, "run FILE               execute a program (.mvm or .mvmc)"},
	"cat":    {catVerb, "cat FILE1 FILE2 [-o OUT] concatenate two programs"},
	"sym":    {symVerb, "sym FILE               print debug symbols and labels"},
	"disasm": {disasmVerb, "disasm FILE            print an annotated listing"},
	"load":   {loadVerb, "load FILE              decode a .mvmc file to assembly"},
	"dump":   {dumpVerb, "dump FILE [-o OUT] [-s] encode a program to .mvmc"},
	"lsp":    {lspVerb, "lsp                    start the language server on stdio"},
	"serve":  {serveVerb, "serve [ADDR]           start the execution service"},
	"remote": {remoteVerb, "remote ADDR FILE [-check] run a program on a server"},
}

var aliases = map[string]string{
	"r": "run",
	"s": "sym",
	"d": "disasm",
	"l": "load",
}

var verbOrder = []string{"run", "cat", "sym", "disasm", "load", "dump", "lsp", "serve", "remote"}

func main() {
	var v verbosity
	flag.Var(&v, "v", "Verbose logging (repeat for more)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: mvm [options] VERB [args...]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nVerbs:\n")
		for _, name := range verbOrder {
			fmt.Fprintf(os.Stderr, "  %s\n", verbs[name].usage)
		}
		fmt.Fprintf(os.Stderr, "\nShort forms: r=run s=sym d=disasm l=load\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment:\n")
		fmt.Fprintf(os.Stderr, "  %s  trace sink: a text file, a .db/.sqlite database, or a .mvm trace program\n", manifest.TraceEnv)
	}
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}
	name := args[0]
	if full, ok := aliases[name]; ok {
		name = full
	}
	vb, ok := verbs[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "Error: unknown verb %q\n", args[0])
		flag.Usage()
		os.Exit(2)
	}

	m, err := findManifest(args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	configureLogging(int(v), m)

	c := &cli{
		m:      m,
		stdout: os.Stdout,
		color:  isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()),
	}
	if err := vb.run(c, args[1:]); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "Usage: mvm %s\n", vb.usage)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// findManifest looks for mvm.toml above the first existing file argument,
// or above the working directory.
func findManifest(args []string) (*manifest.Manifest, error) {
	dir := "."
	for _, a := range args {
		if fi, err := os.Stat(a); err == nil && !fi.IsDir() {
			dir = filepath.Dir(a)
			break
		}
	}
	m, err := manifest.FindAndLoad(dir)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = manifest.Default()
	}
	return m, nil
}

// configureLogging applies the larger of the -v count and [log].verbosity.
func configureLogging(flagLevel int, m *manifest.Manifest) {
	level := max(flagLevel, m.Log.Verbosity)
	if file := m.LogFile(); file != "" {
		commonlog.Configure(level, &file)
		return
	}
	commonlog.Configure(level, nil)
}
