package router

import (
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"sort"
	"strings"

	"github.com/danmuck/boxrelay/internal/codec"
)

var (
	ErrDuplicateCommand = errors.New("router: duplicate command")
	ErrDuplicateModule  = errors.New("router: duplicate module")
	ErrInvalidRule      = errors.New("router: invalid rule")
	ErrFrozen           = errors.New("router: registration after startup")
)

// HandlerFunc serves one routed request.
type HandlerFunc func(*Request) error

// Rule maps one command to its handler.
type Rule struct {
	Command string
	Name    string
	Handler HandlerFunc
}

func (r Rule) samehandler(other Rule) bool {
	return funcID(r.Handler) == funcID(other.Handler)
}

// table is one routing scope.
type table struct {
	rules map[string]Rule
	order []string
}

func newTable() table {
	return table{rules: make(map[string]Rule)}
}

func (t *table) add(scope, cmd, name string, h HandlerFunc) error {
	cmd = strings.TrimSpace(cmd)
	if h == nil {
		return fmt.Errorf("%w: nil handler for %s command %q", ErrInvalidRule, scope, cmd)
	}
	if name == "" {
		name = funcName(h)
	}
	if cmd == "" {
		cmd = name
	}
	rule := Rule{Command: cmd, Name: name, Handler: h}
	if old, ok := t.rules[cmd]; ok {
		if old.samehandler(rule) {
			return nil
		}
		return fmt.Errorf("%w: %s command %q old=%s new=%s", ErrDuplicateCommand, scope, cmd, old.Name, rule.Name)
	}
	t.rules[cmd] = rule
	t.order = append(t.order, cmd)
	return nil
}

func (t *table) get(cmd string) (Rule, bool) {
	r, ok := t.rules[cmd]
	return r, ok
}

func (t *table) list() []Rule {
	out := make([]Rule, 0, len(t.order))
	for _, cmd := range t.order {
		out = append(out, t.rules[cmd])
	}
	return out
}

// Router is the application routing scope plus its registered modules.
type Router struct {
	routes  table
	hooks   Hooks
	modules []*Module
	errs    []error
	frozen  bool
}

func New() *Router {
	return &Router{routes: newTable()}
}

// Handle registers cmd at application scope. An empty name falls back to the
// handler's function name; an empty cmd falls back to the name.
func (r *Router) Handle(cmd, name string, h HandlerFunc) error {
	if r.frozen {
		return ErrFrozen
	}
	if err := r.routes.add("app", cmd, name, h); err != nil {
		r.errs = append(r.errs, err)
		return err
	}
	return nil
}

// Hooks exposes application-scope lifecycle hook registration.
func (r *Router) Hooks() *Hooks {
	return &r.hooks
}

// Register composes a module into the pipeline. Registration order is lookup
// and hook order.
func (r *Router) Register(m *Module) error {
	if r.frozen {
		return ErrFrozen
	}
	if m == nil {
		err := fmt.Errorf("%w: nil module", ErrInvalidRule)
		r.errs = append(r.errs, err)
		return err
	}
	for _, existing := range r.modules {
		if existing == m {
			return nil
		}
		if existing.name == m.name {
			err := fmt.Errorf("%w: %q", ErrDuplicateModule, m.name)
			r.errs = append(r.errs, err)
			return err
		}
	}
	r.modules = append(r.modules, m)
	return nil
}

// Modules returns registered modules in registration order.
func (r *Router) Modules() []*Module {
	out := make([]*Module, len(r.modules))
	copy(out, r.modules)
	return out
}

// Validate reports registration errors and commands registered in more than
// one scope, then freezes the router. It must run before the listener binds.
func (r *Router) Validate() error {
	if len(r.errs) > 0 {
		return errors.Join(r.errs...)
	}
	for _, m := range r.modules {
		if len(m.errs) > 0 {
			return errors.Join(m.errs...)
		}
	}

	seen := make(map[string][]string)
	for _, cmd := range r.routes.order {
		seen[cmd] = append(seen[cmd], "app")
	}
	for _, m := range r.modules {
		for _, cmd := range m.routes.order {
			seen[cmd] = append(seen[cmd], m.name)
		}
	}
	var dups []string
	for cmd, scopes := range seen {
		if len(scopes) > 1 {
			dups = append(dups, fmt.Sprintf("%q(%s)", cmd, strings.Join(scopes, ",")))
		}
	}
	if len(dups) > 0 {
		sort.Strings(dups)
		return fmt.Errorf("%w: %s", ErrDuplicateCommand, strings.Join(dups, " "))
	}

	r.frozen = true
	for _, m := range r.modules {
		m.frozen = true
	}
	return nil
}

// Match is the outcome of Resolve.
type Match struct {
	Rule   Rule
	Module *Module
}

// Endpoint is "<module>.<name>" for module rules and the bare name otherwise.
func (m Match) Endpoint() string {
	if m.Module == nil {
		return m.Rule.Name
	}
	return m.Module.name + "." + m.Rule.Name
}

// Resolve finds the handler for cmd. The application table wins, then the
// first module in registration order.
func (r *Router) Resolve(cmd string) (Match, bool) {
	if cmd == "" {
		return Match{}, false
	}
	if rule, ok := r.routes.get(cmd); ok {
		return Match{Rule: rule}, true
	}

	moduleName, moduleCmd := splitCommand(cmd)
	// only an unqualified numeric command is looked up in every module
	numeric := moduleName == "" && codec.IsNumeric(moduleCmd)
	for _, m := range r.modules {
		if m.name != moduleName && !numeric {
			continue
		}
		if rule, ok := m.routes.get(moduleCmd); ok {
			return Match{Rule: rule, Module: m}, true
		}
	}
	return Match{}, false
}

// Routes lists every rule with its endpoint for introspection.
func (r *Router) Routes() []string {
	var out []string
	for _, rule := range r.routes.list() {
		out = append(out, rule.Command+" -> "+rule.Name)
	}
	for _, m := range r.modules {
		for _, rule := range m.routes.list() {
			out = append(out, m.name+"."+rule.Command+" -> "+m.name+"."+rule.Name)
		}
	}
	return out
}

func splitCommand(cmd string) (string, string) {
	parts := strings.Split(cmd, ".")
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return "", cmd
}

func funcID(h HandlerFunc) uintptr {
	if h == nil {
		return 0
	}
	return reflect.ValueOf(h).Pointer()
}

func funcName(h HandlerFunc) string {
	fn := runtime.FuncForPC(funcID(h))
	if fn == nil {
		return "handler"
	}
	name := fn.Name()
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return name
}
