package engine

import (
	"fmt"
	"reflect"
	"sync"
)

// Initializer is implemented by operation holder types that need setup after
// zero-value construction. An Init error fails construction.
type Initializer interface {
	Init() error
}

// Container maps operation holder types to lazily constructed singletons.
// Every method handler whose receiver is *T shares the same *T.
// A construction failure is cached and returned on every later request.
type Container struct {
	// mu protects instances and failures
	mu sync.Mutex

	// instances maps a holder type to its singleton pointer
	instances map[reflect.Type]any

	// failures maps a holder type to its construction error
	failures map[reflect.Type]error
}

// NewContainer creates an empty container.
func NewContainer() *Container {
	return &Container{
		instances: make(map[reflect.Type]any),
		failures:  make(map[reflect.Type]error),
	}
}

// Instance returns the singleton *T held by c, constructing it on first use.
func Instance[T any](c *Container) (*T, error) {
	typ := reflect.TypeFor[T]()

	c.mu.Lock()
	defer c.mu.Unlock()

	if inst, ok := c.instances[typ]; ok {
		return inst.(*T), nil
	}
	if err, ok := c.failures[typ]; ok {
		return nil, err
	}

	inst, err := construct[T](typ)
	if err != nil {
		c.failures[typ] = err
		return nil, err
	}

	c.instances[typ] = inst
	return inst, nil
}

// Provide seeds c with a ready-made instance, replacing any cached one.
// inst must be a non-nil pointer.
func (c *Container) Provide(inst any) error {
	v := reflect.ValueOf(inst)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return NewConfigurationError(fmt.Sprintf("cannot provide %T: expected a non-nil pointer", inst), nil).
			WithCode(ErrCodeValidation)
	}

	typ := v.Type().Elem()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.instances[typ] = inst
	delete(c.failures, typ)
	return nil
}

// Len returns the number of constructed instances.
func (c *Container) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.instances)
}

func construct[T any](typ reflect.Type) (inst *T, err error) {
	if typ.Kind() == reflect.Interface {
		return nil, instantiationError(typ, fmt.Errorf("%s is an interface type", typ))
	}

	defer func() {
		if r := recover(); r != nil {
			inst = nil
			err = instantiationError(typ, fmt.Errorf("panic during Init: %v", r))
		}
	}()

	inst = new(T)
	if initializer, ok := any(inst).(Initializer); ok {
		if err := initializer.Init(); err != nil {
			return nil, instantiationError(typ, err)
		}
	}
	return inst, nil
}

func instantiationError(typ reflect.Type, err error) *EngineError {
	return NewConfigurationError(
		fmt.Sprintf("failed to instantiate operation holder %s: operation holder types must support parameterless construction", typ),
		err,
	).WithCode(ErrCodeInstantiation).WithDetail("type", typ.String())
}
