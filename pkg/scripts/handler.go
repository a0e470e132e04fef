package scripts

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"

	"github.com/openfroyo/infractl/pkg/engine"
)

// Handler is an engine.Handler backed by a Starlark function. Each invocation
// runs on a fresh thread that is cancelled together with the Go context.
type Handler struct {
	fn     *starlark.Function
	path   string
	logger zerolog.Logger
}

var _ engine.Handler = (*Handler)(nil)

// NewHandler wraps fn, defined in the module at path.
func NewHandler(fn *starlark.Function, path string, logger zerolog.Logger) *Handler {
	return &Handler{fn: fn, path: path, logger: logger}
}

// Kind reports HandlerFunction: script handlers have no owning instance.
func (h *Handler) Kind() engine.HandlerKind { return engine.HandlerFunction }

// Identifier returns the Starlark function name. Lambdas have none.
func (h *Handler) Identifier() (string, error) {
	if h.fn == nil {
		return "", fmt.Errorf("script handler has no function")
	}
	if name := h.fn.Name(); name != "" && name != "lambda" {
		return name, nil
	}
	return "", fmt.Errorf("lambda in %s has no usable name; pass name=", filepath.Base(h.path))
}

// Path returns the module file that defines the handler.
func (h *Handler) Path() string { return h.path }

// Resolve returns the invocation. The container is unused.
func (h *Handler) Resolve(_ *engine.Container) (engine.Invocation, error) {
	if h.fn == nil {
		return nil, engine.NewOperationError("script handler has no function", nil).
			WithCode(engine.ErrCodeDispatch)
	}
	return h.call, nil
}

func (h *Handler) String() string {
	if h.fn == nil {
		return "script <nil>"
	}
	return fmt.Sprintf("script %s:%s", filepath.Base(h.path), h.fn.Name())
}

func (h *Handler) call(ctx context.Context, env engine.EnvContext) error {
	logger := h.logger.With().Str("script", h.path).Str("function", h.fn.Name()).Logger()

	thread := &starlark.Thread{
		Name: h.fn.Name(),
		Print: func(_ *starlark.Thread, msg string) {
			logger.Info().Msg(msg)
		},
	}
	stop := context.AfterFunc(ctx, func() {
		thread.Cancel(context.Cause(ctx).Error())
	})
	defer stop()

	_, err := starlark.Call(thread, h.fn, starlark.Tuple{newScriptContext(env)}, nil)
	if err == nil {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s interrupted: %w", h, ctxErr)
	}

	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		logger.Debug().Str("backtrace", evalErr.Backtrace()).Msg("Script handler failed")
	}
	return fmt.Errorf("%s: %w", h, err)
}
