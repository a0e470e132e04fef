package engine

import (
	"context"
	"fmt"
	"reflect"
)

// HandlerKind tags how a handler is dispatched.
type HandlerKind string

const (
	// HandlerFunction is a free function called with the context only.
	HandlerFunction HandlerKind = "function"

	// HandlerMethod is called on the singleton instance of its owning type.
	HandlerMethod HandlerKind = "method"
)

// HandlerFunc is the signature of a free-function operation handler.
type HandlerFunc func(ctx context.Context, env EnvContext) error

// Invocation is a handler whose dispatch target has been resolved.
type Invocation func(ctx context.Context, env EnvContext) error

// Handler is the dispatch target of an operation.
// The variant is chosen explicitly at registration time with Func or Method.
type Handler interface {
	// Kind returns the dispatch variant.
	Kind() HandlerKind

	// Identifier returns the bare handler name used to derive an operation name.
	Identifier() (string, error)

	// Resolve prepares the call, obtaining any owning instance from c.
	Resolve(c *Container) (Invocation, error)

	// String describes the handler for listings and logs.
	String() string
}

type funcHandler struct {
	fn HandlerFunc
}

// Func returns a free-function handler.
func Func(fn HandlerFunc) Handler {
	return &funcHandler{fn: fn}
}

func (h *funcHandler) Kind() HandlerKind { return HandlerFunction }

func (h *funcHandler) Identifier() (string, error) {
	return funcIdentifier(h.fn)
}

func (h *funcHandler) Resolve(_ *Container) (Invocation, error) {
	if h.fn == nil {
		return nil, NewOperationError("handler function is nil", nil).WithCode(ErrCodeDispatch)
	}
	return Invocation(h.fn), nil
}

func (h *funcHandler) String() string {
	ident, err := h.Identifier()
	if err != nil {
		return "func <anonymous>"
	}
	return "func " + ident
}

// MethodFunc is a method expression on *T, for example (*Buckets).Setup.
type MethodFunc[T any] func(recv *T, ctx context.Context, env EnvContext) error

type methodHandler[T any] struct {
	fn MethodFunc[T]
}

// Method returns a handler that is invoked on the container's singleton *T.
// T must be constructible without arguments; see Container.
func Method[T any](fn func(recv *T, ctx context.Context, env EnvContext) error) Handler {
	return &methodHandler[T]{fn: fn}
}

func (h *methodHandler[T]) Kind() HandlerKind { return HandlerMethod }

func (h *methodHandler[T]) Identifier() (string, error) {
	return funcIdentifier(h.fn)
}

// OwnerType returns the type whose singleton receives the call.
func (h *methodHandler[T]) OwnerType() reflect.Type {
	return reflect.TypeFor[T]()
}

func (h *methodHandler[T]) Resolve(c *Container) (Invocation, error) {
	if h.fn == nil {
		return nil, NewOperationError("handler method is nil", nil).WithCode(ErrCodeDispatch)
	}
	if c == nil {
		return nil, NewOperationError(
			fmt.Sprintf("no instance container available for %s", h.OwnerType()), nil).
			WithCode(ErrCodeDispatch)
	}

	recv, err := Instance[T](c)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, env EnvContext) error {
		return h.fn(recv, ctx, env)
	}, nil
}

func (h *methodHandler[T]) String() string {
	ident, err := h.Identifier()
	if err != nil {
		ident = "<anonymous>"
	}
	return fmt.Sprintf("method (*%s).%s", h.OwnerType(), ident)
}

// describeHandler renders h for serialization, tolerating nil.
func describeHandler(h Handler) string {
	if h == nil {
		return ""
	}
	return h.String()
}
