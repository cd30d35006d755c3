package ports

import "reflect"

// isNilInterface catches typed nil pointers stored in an interface, which is
// how a failed constructor usually ends up wired.
func isNilInterface(v any) bool {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}
