package proto

import "fmt"

// CheckFieldType checks whether field with given number has expected type.
func CheckFieldType(num, got, exp int) error {
	if got != exp {
		return fmt.Errorf("wrong type of field #%d: expected %s, got %s", num, StringifyFieldType(exp), StringifyFieldType(got))
	}

	return nil
}
