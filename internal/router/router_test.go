package router

import (
	"errors"
	"strings"
	"testing"

	"github.com/danmuck/boxrelay/internal/testutil/testlog"
)

func noop(*Request) error  { return nil }
func other(*Request) error { return nil }

func TestHandleIsIdempotentForSameHandler(t *testing.T) {
	testlog.Start(t)

	r := New()
	if err := r.Handle("1001", "echo", noop); err != nil {
		t.Fatalf("first handle: %v", err)
	}
	if err := r.Handle("1001", "echo", noop); err != nil {
		t.Fatalf("same handler should be accepted: %v", err)
	}
	if err := r.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got := len(r.Routes()); got != 1 {
		t.Fatalf("expected one route, got %d", got)
	}
}

func TestHandleRejectsDifferentHandler(t *testing.T) {
	testlog.Start(t)

	r := New()
	if err := r.Handle("1001", "echo", noop); err != nil {
		t.Fatalf("first handle: %v", err)
	}
	err := r.Handle("1001", "echo2", other)
	if !errors.Is(err, ErrDuplicateCommand) {
		t.Fatalf("expected ErrDuplicateCommand, got %v", err)
	}
	if err := r.Validate(); !errors.Is(err, ErrDuplicateCommand) {
		t.Fatalf("validate should surface the registration error, got %v", err)
	}
}

func TestValidateRejectsCrossScopeDuplicates(t *testing.T) {
	testlog.Start(t)

	r := New()
	if err := r.Handle("2001", "", noop); err != nil {
		t.Fatalf("handle: %v", err)
	}
	m := NewModule("user")
	if err := m.Handle("2001", "", other); err != nil {
		t.Fatalf("module handle: %v", err)
	}
	if err := r.Register(m); err != nil {
		t.Fatalf("register: %v", err)
	}
	err := r.Validate()
	if !errors.Is(err, ErrDuplicateCommand) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if !strings.Contains(err.Error(), "2001") {
		t.Fatalf("error should name the command: %v", err)
	}
}

func TestRegisterRejectsDuplicateModuleName(t *testing.T) {
	testlog.Start(t)

	r := New()
	if err := r.Register(NewModule("user")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(NewModule("user")); !errors.Is(err, ErrDuplicateModule) {
		t.Fatalf("expected ErrDuplicateModule, got %v", err)
	}
}

func TestRegistrationAfterValidateIsRejected(t *testing.T) {
	testlog.Start(t)

	r := New()
	m := NewModule("user")
	if err := r.Register(m); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := r.Handle("1", "", noop); !errors.Is(err, ErrFrozen) {
		t.Fatalf("expected ErrFrozen from router, got %v", err)
	}
	if err := m.Handle("1", "", noop); !errors.Is(err, ErrFrozen) {
		t.Fatalf("expected ErrFrozen from module, got %v", err)
	}
}

func TestResolveOrder(t *testing.T) {
	testlog.Start(t)

	r := New()
	if err := r.Handle("ping", "", noop); err != nil {
		t.Fatalf("handle: %v", err)
	}
	user := NewModule("user")
	_ = user.Handle("login", "", noop)
	_ = user.Handle("3001", "lookup", noop)
	shop := NewModule("shop")
	_ = shop.Handle("logout", "", other)
	_ = shop.Handle("4001", "buy", other)
	_ = r.Register(user)
	_ = r.Register(shop)
	if err := r.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	tests := []struct {
		cmd      string
		ok       bool
		endpoint string
	}{
		{cmd: "ping", ok: true, endpoint: "ping"},
		{cmd: "user.login", ok: true, endpoint: "user.login"},
		{cmd: "shop.logout", ok: true, endpoint: "shop.logout"},
		{cmd: "shop.login", ok: false},
		{cmd: "3001", ok: true, endpoint: "user.lookup"},
		{cmd: "4001", ok: true, endpoint: "shop.buy"},
		{cmd: "user.3001", ok: true, endpoint: "user.lookup"},
		{cmd: "shop.3001", ok: false},
		{cmd: "nosuch.3001", ok: false},
		{cmd: "login", ok: false},
		{cmd: "admin.login", ok: false},
		{cmd: "", ok: false},
	}
	for _, tc := range tests {
		match, ok := r.Resolve(tc.cmd)
		if ok != tc.ok {
			t.Fatalf("resolve %q: ok=%v want %v", tc.cmd, ok, tc.ok)
		}
		if ok && match.Endpoint() != tc.endpoint {
			t.Fatalf("resolve %q: endpoint=%q want %q", tc.cmd, match.Endpoint(), tc.endpoint)
		}
	}
}

func TestHandleDefaultsNameAndCommand(t *testing.T) {
	testlog.Start(t)

	r := New()
	if err := r.Handle("", "status", noop); err != nil {
		t.Fatalf("handle: %v", err)
	}
	match, ok := r.Resolve("status")
	if !ok {
		t.Fatalf("expected command to fall back to name")
	}
	if match.Rule.Name != "status" {
		t.Fatalf("unexpected name: %q", match.Rule.Name)
	}

	if err := r.Handle("5", "", noop); err != nil {
		t.Fatalf("handle: %v", err)
	}
	match, _ = r.Resolve("5")
	if !strings.Contains(match.Rule.Name, "noop") {
		t.Fatalf("expected function name fallback, got %q", match.Rule.Name)
	}
	if err := r.Handle("6", "", nil); !errors.Is(err, ErrInvalidRule) {
		t.Fatalf("expected ErrInvalidRule for nil handler, got %v", err)
	}
}

func TestValidateRejectsSameCommandInTwoModules(t *testing.T) {
	testlog.Start(t)

	r := New()
	a := NewModule("a")
	b := NewModule("b")
	_ = a.Handle("login", "", noop)
	_ = b.Handle("login", "", other)
	_ = r.Register(a)
	_ = r.Register(b)
	if err := r.Validate(); !errors.Is(err, ErrDuplicateCommand) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}
