package router

import "strings"

// Module is a named bundle of routes and hooks composed into a Router.
//
// App hooks fire for every request the worker serves; own hooks fire only when
// the request was routed to this module.
type Module struct {
	name   string
	routes table
	app    Hooks
	own    Hooks
	errs   []error
	frozen bool
}

func NewModule(name string) *Module {
	return &Module{name: strings.TrimSpace(name), routes: newTable()}
}

func (m *Module) Name() string {
	return m.name
}

func (m *Module) Handle(cmd, name string, h HandlerFunc) error {
	if m.frozen {
		return ErrFrozen
	}
	if err := m.routes.add("module "+m.name, cmd, name, h); err != nil {
		m.errs = append(m.errs, err)
		return err
	}
	return nil
}

// AppHooks registers hooks that run for every request, not only this module's.
func (m *Module) AppHooks() *Hooks {
	return &m.app
}

// OnBeforeRequest runs after all app-wide before hooks when this module matched.
func (m *Module) OnBeforeRequest(fn RequestHook) {
	m.own.OnBeforeRequest(fn)
}

// OnAfterRequest runs first among after hooks when this module matched.
func (m *Module) OnAfterRequest(fn AfterRequestHook) {
	m.own.OnAfterRequest(fn)
}
