package hostbridge

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/chazu/mvm/asm"
	"github.com/chazu/mvm/vm"
)

type account struct {
	Owner   string
	Balance int64
	secret  string
}

func (a *account) Deposit(n int64) int64 {
	a.Balance += n
	return a.Balance
}

func (a *account) Close() error {
	return errors.New("account is frozen")
}

func runWith(t *testing.T, b vm.Bridge, src string) (*vm.Result, error) {
	t.Helper()
	seq, syms, err := asm.Assemble(src)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	return vm.NewVM(vm.WithBridge(b)).Run(context.Background(), seq, syms)
}

func mustRun(t *testing.T, b vm.Bridge, src string) *vm.Result {
	t.Helper()
	res, err := runWith(t, b, src)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return res
}

func TestStdPrelude(t *testing.T) {
	res := mustRun(t, Std(), `
call-static 'Strings upper "abc"
move 'up
call-static 'Math pow 2 10
move 'p
call-static 'Strings join ["a" "b"] "-"
move 'joined
new 'b 'Builder
call b writeString "hi"
call b writeString " there"
call b string
move 's
call-static 'Time unix 0 0
call-x unix
move 'epoch
call-static 'Fmt sprintf "%d-%s" 7 "x"
move 'f
`)
	tests := []struct {
		name string
		want string
	}{
		{"up", "ABC"},
		{"p", "1024"},
		{"joined", "a-b"},
		{"s", "hi there"},
		{"epoch", "0"},
		{"f", "7-x"},
	}
	for _, tt := range tests {
		if got := res.Vars[tt.name].String(); got != tt.want {
			t.Errorf("%s = %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestConstructAndFields(t *testing.T) {
	r := New()
	r.Register("Account", account{})
	res := mustRun(t, r, `
new 'a 'Account "ann" 10L
get-field a owner
move 'o
move-field a balance 25
call a deposit 5
move 'bal
get-accessible? a secret
move 'before
move-accessible a secret true
move-field a secret "s3"
get-accessible? a secret
move 'after
op-is_a? 'Account a
move 'isAccount
`)
	if got := res.Vars["o"].Str(); got != "ann" {
		t.Errorf("owner = %q", got)
	}
	if got := res.Vars["bal"]; got.Kind() != vm.KindLong || got.Int() != 30 {
		t.Errorf("balance = %s (%s), want 30L", got, got.Kind())
	}
	if res.Vars["before"].Bool() || !res.Vars["after"].Bool() {
		t.Errorf("accessibility before/after = %s/%s", res.Vars["before"], res.Vars["after"])
	}
	if !res.Vars["isAccount"].Bool() {
		t.Error("op-is_a? 'Account = false")
	}
	acct := res.Vars["a"].Foreign().(*account)
	if acct.secret != "s3" {
		t.Errorf("secret = %q after move-field", acct.secret)
	}
}

func TestHiddenFieldIsAnError(t *testing.T) {
	r := New()
	r.Register("Account", account{})
	res := mustRun(t, r, `
new 'a 'Account
lambda peek:
    get-field a secret
pcall peek
`)
	if res.Error == nil || res.Error.Kind != vm.ForeignError {
		t.Fatalf("error register = %v, want a ForeignError", res.Error)
	}
}

func TestHostErrorsBecomeForeignErrors(t *testing.T) {
	r := New()
	r.Register("Account", account{})
	tests := map[string]string{
		"bad argument": `new 'a 'Account 1`,
		"error result": "new 'a 'Account\ncall a close",
		"no method":    "new 'a 'Account\ncall a nope",
		"no class":     `new 'Missing`,
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := runWith(t, r, src)
			var u *vm.UnhandledError
			if !errors.As(err, &u) || u.Err.Kind != vm.ForeignError {
				t.Fatalf("err = %v, want an unhandled ForeignError", err)
			}
		})
	}
}

func TestStringerImpl(t *testing.T) {
	res := mustRun(t, Std(), `
impl Stringer string:
    str-new hello from the vm
move 's
call-static 'Fmt sprint s
`)
	if got := res.Value.Str(); got != "hello from the vm" {
		t.Errorf("fmt.Sprint(impl) = %q", got)
	}
}

func TestSorterImpl(t *testing.T) {
	res := mustRun(t, Std(), `
vec-new 'xs 3 1 2
lambda size:
    vec-len xs
lambda less i j:
    vec-index xs i
    move 'a
    vec-index xs j
    move 'b
    op-lt? a b
lambda swap i j:
    vec-index xs i
    move 'x
    vec-index xs j
    move 'y
    move-index xs i y
    move-index xs j x
map-new 'm
map-add m "len" size
map-add m "less" less
map-add m "swap" swap
get m
impl Sorter
move 's
call-static 'Sort sort s
`)
	got := res.Vars["xs"].Vector().Items()
	for i, want := range []int64{1, 2, 3} {
		if got[i].Int() != want {
			t.Fatalf("sorted vector = %s", res.Vars["xs"])
		}
	}
}

func TestImplWithoutAdapter(t *testing.T) {
	r := New()
	type greeter interface{ Greet(string) string }
	r.RegisterInterface("Greeter", (*greeter)(nil), nil)
	res := mustRun(t, r, `
impl Greeter greet name:
    str-new "hi "
    str-cat name
`)
	impl, ok := res.Value.Foreign().(*Impl)
	if !ok {
		t.Fatalf("impl produced %s", res.Value)
	}
	v, err := impl.Call("greet", vm.NewStr("ann"))
	if err != nil || v.Str() != "hi ann" {
		t.Errorf("greet = %s, %v", v, err)
	}
}

func TestConversions(t *testing.T) {
	tests := []struct {
		in   vm.Value
		typ  reflect.Type
		want any
	}{
		{vm.NewInt(7), reflect.TypeOf(int8(0)), int8(7)},
		{vm.NewDouble(1.5), reflect.TypeOf(float32(0)), float32(1.5)},
		{vm.NewStr("x"), reflect.TypeOf(""), "x"},
		{vm.NewArrayValue(vm.NewArray(vm.NewInt(1), vm.NewInt(2))), reflect.TypeOf([]int{}), []int{1, 2}},
		{vm.Null, reflect.TypeOf([]int{}), []int(nil)},
	}
	for _, tt := range tests {
		got, err := ToGo(tt.in, tt.typ)
		if err != nil {
			t.Errorf("ToGo(%s, %s): %v", tt.in, tt.typ, err)
			continue
		}
		if !reflect.DeepEqual(got.Interface(), tt.want) {
			t.Errorf("ToGo(%s, %s) = %#v, want %#v", tt.in, tt.typ, got.Interface(), tt.want)
		}
	}
	if _, err := ToGo(vm.NewInt(300), reflect.TypeOf(int8(0))); err == nil {
		t.Error("300 fit in an int8")
	}

	m := FromGo(reflect.ValueOf(map[string]int{"a": 1}))
	if v, ok, _ := m.Map().Get(vm.NewStr("a")); !ok || v.Int() != 1 {
		t.Errorf("FromGo(map) = %s", m)
	}
	if v := FromGo(reflect.ValueOf(errors.New("boom"))); v.Kind() != vm.KindError || v.Err().Message != "boom" {
		t.Errorf("FromGo(error) = %s", v)
	}
}
