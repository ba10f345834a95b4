package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"google.golang.org/protobuf/encoding/protojson"

	"github.com/chazu/mvm/asm"
	"github.com/chazu/mvm/codec"
	"github.com/chazu/mvm/grpcbridge"
	"github.com/chazu/mvm/hostbridge"
	"github.com/chazu/mvm/server"
	"github.com/chazu/mvm/trace"
	"github.com/chazu/mvm/vm"
)

// binaryExt is the extension dump writes by default.
const binaryExt = ".mvmc"

// loadProgram reads an encoded program or assembles a text one.
func loadProgram(path string) (*vm.ISeq, *vm.DebugSymbols, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	if codec.IsProgram(data) {
		seq, syms, err := codec.Load(data)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", path, err)
		}
		return seq, syms, nil
	}
	seq, syms, err := asm.Assemble(string(data))
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return seq, syms, nil
}

// parseArgs parses fs from args, allowing flags after positional arguments,
// and returns the positional ones.
func parseArgs(fs *flag.FlagSet, args []string) ([]string, error) {
	var pos []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, errUsage
		}
		args = fs.Args()
		if len(args) == 0 {
			return pos, nil
		}
		pos = append(pos, args[0])
		args = args[1:]
	}
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

// newVM builds a VM from the manifest: the Go standard bridge, chained with
// a gRPC bridge when one is configured. The returned func releases the
// bridge.
func (c *cli) newVM(extra ...vm.Option) (*vm.VM, func(), error) {
	bridge := vm.Bridge(hostbridge.Std())
	closer := func() {}
	if target := c.m.Bridge.GRPCTarget; target != "" {
		gb, err := grpcbridge.Dial(target, grpcbridge.WithTimeout(c.m.BridgeTimeout()))
		if err != nil {
			return nil, nil, fmt.Errorf("grpc bridge: %w", err)
		}
		log.Infof("gRPC bridge connected to %s", target)
		bridge = vm.Chain(bridge, gb)
		closer = func() {
			if err := gb.Close(); err != nil {
				log.Warningf("closing gRPC bridge: %s", err)
			}
		}
	}
	opts := append(c.m.Options(), vm.WithBridge(bridge))
	opts = append(opts, extra...)
	return vm.NewVM(opts...), closer, nil
}

func runVerb(c *cli, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	seq, syms, err := loadProgram(args[0])
	if err != nil {
		return err
	}

	var extra []vm.Option
	if path := c.m.TracePath(); path != "" {
		sink, err := trace.Open(path)
		if err != nil {
			return fmt.Errorf("trace: %w", err)
		}
		defer func() {
			if err := sink.Close(); err != nil {
				log.Warningf("closing trace %s: %s", path, err)
			}
		}()
		log.Debugf("tracing to %s", path)
		extra = append(extra, vm.WithTrace(sink.Hook))
	}

	v, closeBridge, err := c.newVM(extra...)
	if err != nil {
		return err
	}
	defer closeBridge()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, err := v.Run(ctx, seq, syms)
	v.Wait()
	if err != nil {
		return err
	}
	if !res.Value.IsNull() {
		fmt.Fprintln(c.stdout, asm.FormatValue(res.Value))
	}
	return nil
}

func catVerb(c *cli, args []string) error {
	fs := newFlagSet("cat")
	out := fs.String("o", "", "write the encoded result to OUT")
	pos, err := parseArgs(fs, args)
	if err != nil || len(pos) != 2 {
		return errUsage
	}
	a, sa, err := loadProgram(pos[0])
	if err != nil {
		return err
	}
	b, sb, err := loadProgram(pos[1])
	if err != nil {
		return err
	}
	seq, syms, err := vm.Concat(a, b, sa, sb)
	if err != nil {
		return err
	}
	if *out == "" {
		fmt.Fprint(c.stdout, asm.Disassemble(seq))
		return nil
	}
	return writeProgram(*out, seq, syms)
}

func symVerb(c *cli, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	seq, syms, err := loadProgram(args[0])
	if err != nil {
		return err
	}
	if syms == nil || len(syms.Entries) == 0 {
		fmt.Fprintln(c.stdout, "no debug symbols")
	} else {
		for _, idx := range syms.Indices() {
			sym, _ := syms.Lookup(idx)
			fmt.Fprintf(c.stdout, "%04d %s:%d\n", idx, sym.Name, sym.Line)
		}
	}
	for _, name := range codec.SortedLabels(seq) {
		fmt.Fprintf(c.stdout, "%04d @%s\n", seq.Labels[name], name)
	}
	return nil
}

func disasmVerb(c *cli, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	seq, syms, err := loadProgram(args[0])
	if err != nil {
		return err
	}
	fmt.Fprint(c.stdout, asm.Listing(seq, syms, c.color))
	return nil
}

func loadVerb(c *cli, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	seq, _, err := codec.Load(data)
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	fmt.Fprint(c.stdout, asm.Disassemble(seq))
	return nil
}

func dumpVerb(c *cli, args []string) error {
	fs := newFlagSet("dump")
	out := fs.String("o", "", "output path (default: FILE with a .mvmc extension)")
	strip := fs.Bool("s", false, "omit debug symbols")
	pos, err := parseArgs(fs, args)
	if err != nil || len(pos) != 1 {
		return errUsage
	}
	seq, syms, err := loadProgram(pos[0])
	if err != nil {
		return err
	}
	if *strip {
		syms = nil
	}
	path := *out
	if path == "" {
		path = strings.TrimSuffix(pos[0], filepath.Ext(pos[0])) + binaryExt
	}
	if path == pos[0] {
		return fmt.Errorf("refusing to overwrite %s", path)
	}
	if err := writeProgram(path, seq, syms); err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, path)
	return nil
}

func writeProgram(path string, seq *vm.ISeq, syms *vm.DebugSymbols) error {
	data, err := codec.Dump(seq, syms)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func lspVerb(c *cli, args []string) error {
	if len(args) != 0 {
		return errUsage
	}
	return server.NewLSP().Run()
}

func serveVerb(c *cli, args []string) error {
	addr := ":4567"
	switch len(args) {
	case 0:
	case 1:
		addr = args[0]
	default:
		return errUsage
	}
	v, closeBridge, err := c.newVM()
	if err != nil {
		return err
	}
	defer closeBridge()
	s := server.New(v)
	defer s.Stop()
	return s.ListenAndServe(addr)
}

func remoteVerb(c *cli, args []string) error {
	fs := newFlagSet("remote")
	check := fs.Bool("check", false, "validate only")
	pos, err := parseArgs(fs, args)
	if err != nil || len(pos) != 2 {
		return errUsage
	}
	src, err := os.ReadFile(pos[1])
	if err != nil {
		return err
	}
	base := pos[0]
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	client := server.NewClient(http.DefaultClient, strings.TrimSuffix(base, "/"))

	call := client.Run
	if *check {
		call = client.Check
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	resp, err := call(ctx, string(src))
	if err != nil {
		return err
	}
	out, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(resp)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, string(out))

	if f := resp.GetFields(); f["error"].GetStructValue() != nil || f["fault"].GetStringValue() != "" {
		return errors.New("remote program failed")
	}
	return nil
}
