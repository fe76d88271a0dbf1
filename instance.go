package cqrs

import "reflect"

// newInstanceOf returns a usable zero value of T. Pointer types get a pointer
// to a fresh zero element so value receivers can be called on it.
func newInstanceOf[T any]() T {
	var instance T
	t := reflect.TypeFor[T]()
	if t.Kind() == reflect.Pointer {
		return reflect.New(t.Elem()).Interface().(T)
	}
	return instance
}

// requestName reports the name a command or query declares for itself.
func requestName(request any) string {
	switch r := request.(type) {
	case Command:
		return r.CommandName()
	case Query:
		return r.QueryName()
	}
	return reflect.TypeOf(request).String()
}
