package server

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/chazu/mvm/asm"
	"github.com/chazu/mvm/vm"
)

// Procedures of the execution service. Requests and responses are
// google.protobuf.Struct messages.
const (
	MachineServiceName = "mvm.v1.MachineService"
	RunProcedure       = "/" + MachineServiceName + "/Run"
	CheckProcedure     = "/" + MachineServiceName + "/Check"
)

// ExecService assembles and runs submitted programs.
//
//	Run   {source} -> {accumulator, result, error, fault, vars}
//	Check {source} -> {valid, diagnostics}
type ExecService struct {
	worker  *Worker
	timeout time.Duration
}

// NewExecService creates an ExecService. Runs longer than timeout are
// cancelled; zero means no limit.
func NewExecService(worker *Worker, timeout time.Duration) *ExecService {
	return &ExecService{worker: worker, timeout: timeout}
}

// Register mounts the service's procedures on mux.
func (s *ExecService) Register(mux *http.ServeMux, opts ...connect.HandlerOption) {
	mux.Handle(RunProcedure, connect.NewUnaryHandler(RunProcedure, s.Run, opts...))
	mux.Handle(CheckProcedure, connect.NewUnaryHandler(CheckProcedure, s.Check, opts...))
}

func sourceOf(req *connect.Request[structpb.Struct]) (string, error) {
	source := req.Msg.GetFields()["source"].GetStringValue()
	if source == "" {
		return "", connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source is required"))
	}
	return source, nil
}

// Run assembles and executes a program.
func (s *ExecService) Run(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	source, err := sourceOf(req)
	if err != nil {
		return nil, err
	}
	seq, syms, err := asm.Assemble(source)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	type outcome struct {
		res *vm.Result
		err error
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	out, err := s.worker.Do(ctx, func(ctx context.Context, v *vm.VM) (any, error) {
		res, err := v.Run(ctx, seq, syms)
		return outcome{res, err}, nil
	})
	var o outcome
	if err != nil {
		o.err = err
	} else {
		o = out.(outcome)
	}
	switch {
	case errors.Is(o.err, context.DeadlineExceeded):
		return nil, connect.NewError(connect.CodeDeadlineExceeded, o.err)
	case errors.Is(o.err, context.Canceled):
		return nil, connect.NewError(connect.CodeCanceled, o.err)
	}

	msg, err := structpb.NewStruct(nil)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	fields := msg.Fields
	fields["accumulator"] = structpb.NewNullValue()
	fields["result"] = structpb.NewNullValue()
	fields["error"] = structpb.NewNullValue()
	fields["fault"] = structpb.NewNullValue()
	fields["vars"] = structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{}})

	if o.res != nil {
		fields["accumulator"] = toProto(o.res.Value)
		fields["result"] = toProto(o.res.Result)
		if o.res.Error != nil {
			fields["error"] = errorProto(o.res.Error)
		}
		vars := make(map[string]*structpb.Value, len(o.res.Vars))
		for name, val := range o.res.Vars {
			vars[name] = toProto(val)
		}
		fields["vars"] = structpb.NewStructValue(&structpb.Struct{Fields: vars})
	}
	var u *vm.UnhandledError
	switch {
	case errors.As(o.err, &u):
		fields["error"] = errorProto(u.Err)
	case vm.IsFault(o.err):
		fields["fault"] = structpb.NewStringValue(o.err.Error())
	case o.err != nil:
		return nil, connect.NewError(connect.CodeInternal, o.err)
	}
	return connect.NewResponse(msg), nil
}

// Check assembles and validates a program without running it.
func (s *ExecService) Check(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	source, err := sourceOf(req)
	if err != nil {
		return nil, err
	}
	diags := Diagnose(source)
	list := make([]*structpb.Value, len(diags))
	for i, d := range diags {
		list[i] = structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"line":    structpb.NewNumberValue(float64(d.Line)),
			"column":  structpb.NewNumberValue(float64(d.Column)),
			"message": structpb.NewStringValue(d.Message),
		}})
	}
	return connect.NewResponse(&structpb.Struct{Fields: map[string]*structpb.Value{
		"valid":       structpb.NewBoolValue(len(diags) == 0),
		"diagnostics": structpb.NewListValue(&structpb.ListValue{Values: list}),
	}}), nil
}

// Diagnostic is one assembly problem. Line and Column are 1-based; zero
// means the position is unknown.
type Diagnostic struct {
	Line    int
	Column  int
	Message string
}

// Diagnose assembles source and reports every problem found.
func Diagnose(source string) []Diagnostic {
	_, _, err := asm.Assemble(source)
	if err == nil {
		return nil
	}
	var list asm.ErrorList
	if errors.As(err, &list) {
		out := make([]Diagnostic, len(list))
		for i, e := range list {
			out[i] = Diagnostic{Line: e.Pos.Line, Column: e.Pos.Column, Message: e.Msg}
		}
		return out
	}
	var one *asm.Error
	if errors.As(err, &one) {
		return []Diagnostic{{Line: one.Pos.Line, Column: one.Pos.Column, Message: one.Msg}}
	}
	return []Diagnostic{{Message: err.Error()}}
}

func errorProto(e *vm.Error) *structpb.Value {
	return structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
		"kind":    structpb.NewStringValue(e.Kind.String()),
		"message": structpb.NewStringValue(e.Message),
		"index":   structpb.NewNumberValue(float64(e.Index)),
	}})
}

// toProto converts a VM value to its closest JSON-like form. Maps with
// non-string keys, non-finite numbers and runtime objects are rendered as
// strings.
func toProto(v vm.Value) *structpb.Value {
	switch v.Kind() {
	case vm.KindNull:
		return structpb.NewNullValue()
	case vm.KindBool:
		return structpb.NewBoolValue(v.Bool())
	case vm.KindStr, vm.KindChar:
		return structpb.NewStringValue(v.String())
	case vm.KindArray, vm.KindVector:
		var items []vm.Value
		if v.Kind() == vm.KindArray {
			items = v.Array().Items()
		} else {
			items = v.Vector().Items()
		}
		list := make([]*structpb.Value, len(items))
		for i, it := range items {
			list[i] = toProto(it)
		}
		return structpb.NewListValue(&structpb.ListValue{Values: list})
	case vm.KindMap:
		fields := make(map[string]*structpb.Value, v.Map().Len())
		ok := true
		v.Map().Range(func(_ int, k, val vm.Value) bool {
			if k.Kind() != vm.KindStr {
				ok = false
				return false
			}
			fields[k.Str()] = toProto(val)
			return true
		})
		if ok {
			return structpb.NewStructValue(&structpb.Struct{Fields: fields})
		}
	}
	if v.IsNumeric() {
		if f := v.Float(); !math.IsNaN(f) && !math.IsInf(f, 0) {
			return structpb.NewNumberValue(f)
		}
	}
	return structpb.NewStringValue(v.String())
}

// Client calls a remote ExecService.
type Client struct {
	run   *connect.Client[structpb.Struct, structpb.Struct]
	check *connect.Client[structpb.Struct, structpb.Struct]
}

// NewClient creates a client for the service at baseURL, for example
// "http://localhost:8080".
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	return &Client{
		run:   connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+RunProcedure, opts...),
		check: connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+CheckProcedure, opts...),
	}
}

// Run submits source for execution.
func (c *Client) Run(ctx context.Context, source string) (*structpb.Struct, error) {
	return call(ctx, c.run, source)
}

// Check submits source for validation.
func (c *Client) Check(ctx context.Context, source string) (*structpb.Struct, error) {
	return call(ctx, c.check, source)
}

func call(ctx context.Context, c *connect.Client[structpb.Struct, structpb.Struct], source string) (*structpb.Struct, error) {
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"source": structpb.NewStringValue(source),
	}}
	resp, err := c.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}
