package botsession

import "context"

// HandlerContext is populated by Service.Process before invoking the FSM
// handler for the session's current state.
type HandlerContext struct {
	Session  *Session
	Token    string
	UserID   string
	Role     string
	Language string
}

// Transition is what a Handler returns to mutate session state. ClearState
// requests the cancellation path: clear StatePayload and return to the
// main menu's state id.
type Transition struct {
	NextState  string
	Payload    map[string]interface{}
	ClearState bool
	Response   string
}

// Handler runs one FSM state's logic for one inbound message.
type Handler interface {
	Handle(ctx context.Context, hc *HandlerContext, in Inbound) (*Transition, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, hc *HandlerContext, in Inbound) (*Transition, error)

func (f HandlerFunc) Handle(ctx context.Context, hc *HandlerContext, in Inbound) (*Transition, error) {
	return f(ctx, hc, in)
}

// MainMenuState is the state cancellation returns to.
const MainMenuState = "main_menu"

// Router dispatches to the Handler registered for a session's current
// state id.
type Router struct {
	handlers map[string]Handler
	fallback Handler
}

// NewRouter builds an empty Router. Register states with Register; set a
// catch-all with Fallback.
func NewRouter() *Router {
	return &Router{handlers: make(map[string]Handler)}
}

// Register binds a state id to its handler.
func (r *Router) Register(stateID string, h Handler) *Router {
	r.handlers[stateID] = h
	return r
}

// Fallback sets the handler invoked when no handler is registered for the
// session's current state id (e.g. an unrecognized or stale state).
func (r *Router) Fallback(h Handler) *Router {
	r.fallback = h
	return r
}

func (r *Router) resolve(stateID string) (Handler, bool) {
	if h, ok := r.handlers[stateID]; ok {
		return h, true
	}
	if r.fallback != nil {
		return r.fallback, true
	}
	return nil, false
}
