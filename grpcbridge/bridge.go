// Package grpcbridge exposes a gRPC server to VM programs. Services the
// server publishes through reflection become classes and their RPCs static
// methods; message types are classes too, constructed as Maps:
//
//	map-new 'req
//	map-add req "service" "mvm"
//	call-static 'grpc.health.v1.Health check req
//
// Requests and responses are Maps keyed by field name. A server-streaming
// RPC returns an Array of responses; client-streaming and bidirectional
// RPCs take an Array of requests.
package grpcbridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/dynamic"
	"github.com/jhump/protoreflect/grpcreflect"
	"github.com/tliron/commonlog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/chazu/mvm/vm"
)

var log = commonlog.GetLogger("mvm.grpc")

// Bridge is a vm.Bridge backed by one gRPC connection.
type Bridge struct {
	conn    *grpc.ClientConn
	owned   bool
	refc    *grpcreflect.Client
	cancel  context.CancelFunc
	timeout time.Duration

	mu       sync.Mutex
	classes  map[string]*vm.ClassRef
	services []string
}

var _ vm.Bridge = (*Bridge)(nil)

// Option configures a Bridge.
type Option func(*Bridge)

// WithTimeout bounds every RPC. Zero means no deadline.
func WithTimeout(d time.Duration) Option {
	return func(b *Bridge) { b.timeout = d }
}

// Dial connects to target without transport security and returns a bridge
// that owns the connection.
func Dial(target string, opts ...Option) (*Bridge, error) {
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	b := New(conn, opts...)
	b.owned = true
	return b, nil
}

// New wraps an existing connection. Close does not close conn.
func New(conn *grpc.ClientConn, opts ...Option) *Bridge {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		conn:    conn,
		refc:    grpcreflect.NewClientAuto(ctx, conn),
		cancel:  cancel,
		classes: make(map[string]*vm.ClassRef),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Close releases the reflection stream and, for dialed bridges, the
// connection.
func (b *Bridge) Close() error {
	b.refc.Reset()
	b.cancel()
	if b.owned {
		return b.conn.Close()
	}
	return nil
}

// Services lists the fully qualified services the server publishes.
func (b *Bridge) Services() ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.listServices()
}

func (b *Bridge) listServices() ([]string, error) {
	if b.services != nil {
		return b.services, nil
	}
	names, err := b.refc.ListServices()
	if err != nil {
		return nil, fmt.Errorf("listing services: %w", err)
	}
	b.services = names
	return names, nil
}

// ResolveClass finds a service by its fully qualified or unqualified name,
// or a message type by its fully qualified name.
func (b *Bridge) ResolveClass(name string) (*vm.ClassRef, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.classes[name]; ok {
		return c, nil
	}

	full := name
	if !strings.Contains(name, ".") {
		names, err := b.listServices()
		if err != nil {
			return nil, err
		}
		var matches []string
		for _, n := range names {
			if n == name || strings.HasSuffix(n, "."+name) {
				matches = append(matches, n)
			}
		}
		switch len(matches) {
		case 0:
			return nil, fmt.Errorf("no gRPC service %s", name)
		case 1:
			full = matches[0]
		default:
			return nil, fmt.Errorf("gRPC service %s is ambiguous: %s", name, strings.Join(matches, ", "))
		}
	}

	var handle any
	if sd, err := b.refc.ResolveService(full); err == nil {
		handle = sd
	} else if md, merr := b.refc.ResolveMessage(full); merr == nil {
		handle = md
	} else {
		return nil, fmt.Errorf("no gRPC service or message %s: %w", full, err)
	}
	c := vm.NewClassRef(b, full, handle)
	b.classes[name] = c
	log.Debugf("resolved %s", full)
	return c, nil
}

// ResolveMethod finds an RPC of a service class. Method ids are tried as
// written and with the first letter upper-cased.
func (b *Bridge) ResolveMethod(target vm.Value, id string) (*vm.MethodRef, error) {
	if target.Kind() != vm.KindClass {
		return nil, fmt.Errorf("%s is not a gRPC service", target.Kind())
	}
	c := target.Class()
	sd, ok := c.Handle.(*desc.ServiceDescriptor)
	if !ok {
		return nil, fmt.Errorf("%s is not a gRPC service", c.Name)
	}
	md := sd.FindMethodByName(id)
	if md == nil {
		md = sd.FindMethodByName(upperFirst(id))
	}
	if md == nil {
		return nil, fmt.Errorf("gRPC service %s has no method %s", c.Name, id)
	}
	return vm.NewMethodRef(b, c, md.GetName(), true, md), nil
}

func upperFirst(s string) string {
	r, n := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[n:]
}

// ResolveField always fails: responses are Maps, read with the map
// instructions.
func (b *Bridge) ResolveField(_ vm.Value, id string) (*vm.FieldRef, error) {
	return nil, fmt.Errorf("field %s: gRPC values have no fields", id)
}

// Invoke performs the RPC described by m.
func (b *Bridge) Invoke(m *vm.MethodRef, _ vm.Value, args []vm.Value) (vm.Value, error) {
	md, ok := m.Handle.(*desc.MethodDescriptor)
	if !ok {
		return vm.Null, fmt.Errorf("%s is not a gRPC method", m.Name)
	}
	if len(args) > 1 {
		return vm.Null, fmt.Errorf("%s takes one request, got %d arguments", m.Name, len(args))
	}
	arg := vm.Null
	if len(args) == 1 {
		arg = args[0]
	}

	ctx := context.Background()
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	method := "/" + md.GetService().GetFullyQualifiedName() + "/" + md.GetName()
	log.Debugf("invoking %s", method)

	var (
		res vm.Value
		err error
	)
	switch {
	case md.IsClientStreaming():
		res, err = b.clientStream(ctx, method, md, arg)
	case md.IsServerStreaming():
		res, err = b.serverStream(ctx, method, md, arg)
	default:
		res, err = b.unary(ctx, method, md, arg)
	}
	if err != nil {
		return vm.Null, fmt.Errorf("%s: %w", method, err)
	}
	return res, nil
}

func (b *Bridge) unary(ctx context.Context, method string, md *desc.MethodDescriptor, arg vm.Value) (vm.Value, error) {
	req, err := MapToMessage(arg, md.GetInputType())
	if err != nil {
		return vm.Null, fmt.Errorf("request: %w", err)
	}
	resp := dynamic.NewMessage(md.GetOutputType())
	if err := b.conn.Invoke(ctx, method, req, resp); err != nil {
		return vm.Null, err
	}
	return MessageToMap(resp)
}

func (b *Bridge) serverStream(ctx context.Context, method string, md *desc.MethodDescriptor, arg vm.Value) (vm.Value, error) {
	req, err := MapToMessage(arg, md.GetInputType())
	if err != nil {
		return vm.Null, fmt.Errorf("request: %w", err)
	}
	stream, err := b.conn.NewStream(ctx, &grpc.StreamDesc{StreamName: md.GetName(), ServerStreams: true}, method)
	if err != nil {
		return vm.Null, err
	}
	if err := stream.SendMsg(req); err != nil {
		return vm.Null, err
	}
	if err := stream.CloseSend(); err != nil {
		return vm.Null, err
	}
	return receiveAll(stream, md)
}

// clientStream sends every element of arg, then collects the single
// response of a client-streaming RPC or all responses of a bidirectional
// one.
func (b *Bridge) clientStream(ctx context.Context, method string, md *desc.MethodDescriptor, arg vm.Value) (vm.Value, error) {
	var items []vm.Value
	switch arg.Kind() {
	case vm.KindNull:
	case vm.KindArray:
		items = arg.Array().Items()
	case vm.KindVector:
		items = arg.Vector().Items()
	default:
		return vm.Null, fmt.Errorf("streaming requests must be an array, got %s", arg.Kind())
	}

	sd := &grpc.StreamDesc{
		StreamName:    md.GetName(),
		ClientStreams: true,
		ServerStreams: md.IsServerStreaming(),
	}
	stream, err := b.conn.NewStream(ctx, sd, method)
	if err != nil {
		return vm.Null, err
	}
	for i, it := range items {
		req, err := MapToMessage(it, md.GetInputType())
		if err != nil {
			return vm.Null, fmt.Errorf("request %d: %w", i, err)
		}
		if err := stream.SendMsg(req); err != nil {
			return vm.Null, fmt.Errorf("sending request %d: %w", i, err)
		}
	}
	if err := stream.CloseSend(); err != nil {
		return vm.Null, err
	}
	if md.IsServerStreaming() {
		return receiveAll(stream, md)
	}
	resp := dynamic.NewMessage(md.GetOutputType())
	if err := stream.RecvMsg(resp); err != nil {
		return vm.Null, err
	}
	return MessageToMap(resp)
}

func receiveAll(stream grpc.ClientStream, md *desc.MethodDescriptor) (vm.Value, error) {
	var out []vm.Value
	for {
		resp := dynamic.NewMessage(md.GetOutputType())
		err := stream.RecvMsg(resp)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return vm.Null, err
		}
		v, err := MessageToMap(resp)
		if err != nil {
			return vm.Null, err
		}
		out = append(out, v)
	}
	return vm.NewArrayValue(vm.NewArray(out...)), nil
}

// Construct builds a message Map. Without arguments every field holds its
// default; a Map argument is checked against the message type and
// normalized.
func (b *Bridge) Construct(c *vm.ClassRef, args []vm.Value) (vm.Value, error) {
	md, ok := c.Handle.(*desc.MessageDescriptor)
	if !ok {
		return vm.Null, fmt.Errorf("gRPC service %s cannot be constructed", c.Name)
	}
	switch len(args) {
	case 0:
		return defaults(md)
	case 1:
		msg, err := MapToMessage(args[0], md)
		if err != nil {
			return vm.Null, err
		}
		return MessageToMap(msg)
	}
	return vm.Null, fmt.Errorf("%s takes at most one map, got %d arguments", c.Name, len(args))
}

func (b *Bridge) GetField(f *vm.FieldRef, _ vm.Value) (vm.Value, error) {
	return vm.Null, fmt.Errorf("field %s: gRPC values have no fields", f.Name)
}

func (b *Bridge) SetField(f *vm.FieldRef, _ vm.Value, _ vm.Value) error {
	return fmt.Errorf("field %s: gRPC values have no fields", f.Name)
}

func (b *Bridge) IsAccessible(_ vm.Value, member string) (bool, error) {
	return false, fmt.Errorf("member %s: gRPC values have no access control", member)
}

func (b *Bridge) SetAccessible(_ vm.Value, member string, _ bool) error {
	return fmt.Errorf("member %s: gRPC values have no access control", member)
}

// IsInstance reports whether v is a Map that converts to the message class
// c.
func (b *Bridge) IsInstance(v vm.Value, c *vm.ClassRef) (bool, error) {
	md, ok := c.Handle.(*desc.MessageDescriptor)
	if !ok || v.Kind() != vm.KindMap {
		return false, nil
	}
	_, err := MapToMessage(v, md)
	return err == nil, nil
}

func (b *Bridge) ImplementInterface(c *vm.ClassRef, _ map[string]vm.Callable) (vm.Value, error) {
	return vm.Null, fmt.Errorf("gRPC service %s cannot be implemented by VM code", c.Name)
}
