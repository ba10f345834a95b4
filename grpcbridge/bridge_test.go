package grpcbridge

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/jhump/protoreflect/desc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/test/bufconn"

	"github.com/chazu/mvm/asm"
	"github.com/chazu/mvm/vm"
)

// startServer runs a server with the health and reflection services on an
// in-memory listener and returns a bridge connected to it.
func startServer(t *testing.T) *Bridge {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	hs := health.NewServer()
	hs.SetServingStatus("mvm", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus("idle", healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	b := New(conn, WithTimeout(5*time.Second))
	t.Cleanup(func() { b.Close() })
	return b
}

func run(t *testing.T, b vm.Bridge, src string) (*vm.Result, error) {
	t.Helper()
	seq, syms, err := asm.Assemble(src)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	return vm.NewVM(vm.WithBridge(b)).Run(context.Background(), seq, syms)
}

func field(t *testing.T, m vm.Value, name string) vm.Value {
	t.Helper()
	if m.Kind() != vm.KindMap {
		t.Fatalf("expected a map, got %s", m)
	}
	v, ok, err := m.Map().Get(vm.NewStr(name))
	if err != nil || !ok {
		t.Fatalf("map %s has no %q", m, name)
	}
	return v
}

func TestUnaryCall(t *testing.T) {
	b := startServer(t)
	tests := []struct {
		class, service, want string
	}{
		{"grpc.health.v1.Health", "mvm", "SERVING"},
		{"Health", "idle", "NOT_SERVING"},
	}
	for _, tt := range tests {
		t.Run(tt.class+"/"+tt.service, func(t *testing.T) {
			res, err := run(t, b, `
map-new 'req
map-add req "service" "`+tt.service+`"
call-static '`+tt.class+` check req
`)
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if got := field(t, res.Value, "status").Str(); got != tt.want {
				t.Errorf("status = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStatusErrorsBecomeForeignErrors(t *testing.T) {
	b := startServer(t)
	_, err := run(t, b, `
map-new 'req
map-add req "service" "unknown"
call-static 'Health check req
`)
	var u *vm.UnhandledError
	if !errors.As(err, &u) || u.Err.Kind != vm.ForeignError {
		t.Fatalf("err = %v, want an unhandled ForeignError", err)
	}
}

func TestBidiStream(t *testing.T) {
	b := startServer(t)
	res, err := run(t, b, `
map-new 'req
map-add req "list_services" "*"
new-array 'reqs req
call-static 'grpc.reflection.v1.ServerReflection serverReflectionInfo reqs
`)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Value.Kind() != vm.KindArray || res.Value.Array().Len() != 1 {
		t.Fatalf("responses = %s, want one", res.Value)
	}
	list := field(t, res.Value.Array().Items()[0], "list_services_response")
	found := false
	for _, svc := range field(t, list, "service").Array().Items() {
		if field(t, svc, "name").Str() == "grpc.health.v1.Health" {
			found = true
		}
	}
	if !found {
		t.Errorf("health service missing from %s", list)
	}
}

func TestMessageClasses(t *testing.T) {
	b := startServer(t)
	res, err := run(t, b, `
new 'empty 'grpc.health.v1.HealthCheckRequest
map-new 'm
map-add m "service" "x"
op-is_a? 'grpc.health.v1.HealthCheckRequest m
move 'fits
map-add m "bogus" 1
op-is_a? 'grpc.health.v1.HealthCheckRequest m
move 'extra
`)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := field(t, res.Vars["empty"], "service").Str(); got != "" {
		t.Errorf("default service = %q", got)
	}
	if !res.Vars["fits"].Bool() || res.Vars["extra"].Bool() {
		t.Errorf("op-is_a? = %s/%s, want true/false", res.Vars["fits"], res.Vars["extra"])
	}
}

func TestResolveErrors(t *testing.T) {
	b := startServer(t)
	if _, err := b.ResolveClass("Nope"); err == nil {
		t.Error("resolved a missing service")
	}
	if _, err := b.ResolveClass("ServerReflection"); err == nil {
		t.Error("resolved an ambiguous short name")
	}
	c, err := b.ResolveClass("Health")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.ResolveMethod(vm.NewClassValue(c), "missing"); err == nil {
		t.Error("resolved a missing method")
	}
	if _, err := b.Construct(c, nil); err == nil {
		t.Error("constructed a service")
	}
	names, err := b.Services()
	if err != nil || len(names) < 2 {
		t.Errorf("Services() = %v, %v", names, err)
	}
}

func TestConversion(t *testing.T) {
	md, err := desc.LoadMessageDescriptorForMessage(&healthpb.HealthCheckResponse{})
	if err != nil {
		t.Fatal(err)
	}
	m := vm.NewMap()
	m.Put(vm.NewStr("status"), vm.NewInt(1))
	msg, err := MapToMessage(vm.NewMapValue(m), md)
	if err != nil {
		t.Fatalf("MapToMessage: %v", err)
	}
	back, err := MessageToMap(msg)
	if err != nil {
		t.Fatalf("MessageToMap: %v", err)
	}
	if got := field(t, back, "status").Str(); got != "SERVING" {
		t.Errorf("status = %q, want SERVING", got)
	}

	bad := vm.NewMap()
	bad.Put(vm.NewStr("status"), vm.NewStr("SOMETIMES"))
	if _, err := MapToMessage(vm.NewMapValue(bad), md); err == nil {
		t.Error("unknown enum name converted")
	}
}
