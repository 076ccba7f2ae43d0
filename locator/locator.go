// Package locator provides a typed service registry. Services are registered
// explicitly at startup and resolved by their static type; nothing is created
// on demand.
package locator

import (
	"fmt"
	"reflect"
	"sync"
)

// A Locator maps service types to their single live instance.
type Locator struct {
	mu       sync.RWMutex
	services map[reflect.Type]any
}

// NewLocator creates an empty Locator.
func NewLocator() *Locator {
	return &Locator{
		services: make(map[reflect.Type]any),
	}
}

// Register stores svc as the instance for type T. Registering a type twice is
// a programmer error and panics; use Replace to swap an instance out.
func Register[T any](l *Locator, svc T) {
	t := reflect.TypeOf((*T)(nil)).Elem()

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.services[t]; ok {
		panic(fmt.Sprintf("service %s already registered", t))
	}

	l.services[t] = svc
}

// Replace stores svc as the instance for type T, overwriting any previous
// instance.
func Replace[T any](l *Locator, svc T) {
	t := reflect.TypeOf((*T)(nil)).Elem()

	l.mu.Lock()
	l.services[t] = svc
	l.mu.Unlock()
}

// Resolve returns the instance registered for type T.
func Resolve[T any](l *Locator) (T, bool) {
	t := reflect.TypeOf((*T)(nil)).Elem()

	l.mu.RLock()
	svc, ok := l.services[t]
	l.mu.RUnlock()

	if !ok {
		var zero T
		return zero, false
	}

	return svc.(T), true
}

// MustResolve returns the instance registered for type T and panics if there
// is none.
func MustResolve[T any](l *Locator) T {
	svc, ok := Resolve[T](l)
	if !ok {
		panic(fmt.Sprintf("service %s not registered",
			reflect.TypeOf((*T)(nil)).Elem()))
	}

	return svc
}

// Unregister removes the instance for type T and reports whether one was
// registered.
func Unregister[T any](l *Locator) bool {
	t := reflect.TypeOf((*T)(nil)).Elem()

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.services[t]; !ok {
		return false
	}

	delete(l.services, t)

	return true
}

// Len returns the number of registered services.
func (l *Locator) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.services)
}
