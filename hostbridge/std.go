package hostbridge

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/chazu/mvm/vm"
)

// Std returns a registry preloaded with the classes every mvm program can
// use: Strings, Math, Fmt, Time, Builder, and the Stringer and Sorter
// interfaces.
func Std() *Registry {
	r := New()
	r.Register("Strings", nil,
		WithFunc("upper", strings.ToUpper),
		WithFunc("lower", strings.ToLower),
		WithFunc("trim", strings.TrimSpace),
		WithFunc("split", strings.Split),
		WithFunc("fields", strings.Fields),
		WithFunc("join", strings.Join),
		WithFunc("repeat", strings.Repeat),
		WithFunc("contains", strings.Contains),
		WithFunc("replace", strings.ReplaceAll),
	)
	r.Register("Math", nil,
		WithFunc("sqrt", math.Sqrt),
		WithFunc("pow", math.Pow),
		WithFunc("floor", math.Floor),
		WithFunc("ceil", math.Ceil),
		WithFunc("abs", math.Abs),
		WithFunc("max", math.Max),
		WithFunc("min", math.Min),
	)
	r.Register("Fmt", nil,
		WithFunc("sprint", fmt.Sprint),
		WithFunc("sprintf", fmt.Sprintf),
		WithFunc("println", fmt.Println),
		WithFunc("printf", fmt.Printf),
	)
	r.Register("Time", time.Time{},
		WithFunc("now", time.Now),
		WithFunc("unix", time.Unix),
		WithFunc("parse", time.Parse),
		WithFunc("sleep", func(ms int64) { time.Sleep(time.Duration(ms) * time.Millisecond) }),
	)
	r.Register("Builder", strings.Builder{})
	r.Register("Sort", nil, WithFunc("sort", sort.Sort))

	r.RegisterInterface("Stringer", (*fmt.Stringer)(nil), stringerAdapter)
	r.RegisterInterface("Sorter", (*sort.Interface)(nil), sorterAdapter)
	return r
}

type stringer struct{ fn vm.Callable }

func (s stringer) String() string {
	v, err := s.fn(nil)
	if err != nil {
		return fmt.Sprintf("%%!String(%v)", err)
	}
	return v.String()
}

func stringerAdapter(methods map[string]vm.Callable) (any, error) {
	fn, ok := methods["string"]
	if !ok {
		return nil, errors.New("missing method string")
	}
	return stringer{fn}, nil
}

// sorter adapts len, less and swap lambdas to sort.Interface. Errors from
// the lambdas abort the sort through a panic that sort.Sort's caller
// recovers as an ordinary error.
type sorter struct {
	len, less, swap vm.Callable
}

func (s sorter) Len() int {
	return int(mustCall(s.len).Int())
}

func (s sorter) Less(i, j int) bool {
	return mustCall(s.less, vm.NewLong(int64(i)), vm.NewLong(int64(j))).Truthy()
}

func (s sorter) Swap(i, j int) {
	mustCall(s.swap, vm.NewLong(int64(i)), vm.NewLong(int64(j)))
}

func mustCall(fn vm.Callable, args ...vm.Value) vm.Value {
	v, err := fn(args)
	if err != nil {
		panic(err)
	}
	return v
}

func sorterAdapter(methods map[string]vm.Callable) (any, error) {
	var s sorter
	for name, dst := range map[string]*vm.Callable{"len": &s.len, "less": &s.less, "swap": &s.swap} {
		fn, ok := methods[name]
		if !ok {
			return nil, fmt.Errorf("missing method %s", name)
		}
		*dst = fn
	}
	return s, nil
}
