package queue

import "reflect"

// jobTypeName derives the queue type name for a payload value. Pointers are
// unwrapped first, so a payload passed by value and one passed by pointer
// name the same job type.
func jobTypeName(v any) string {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "<nil>"
	}
	return t.String()
}
