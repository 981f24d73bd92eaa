package strutils

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
)

func decodeWithNumbers(data []byte) (any, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	if decoder.More() {
		return nil, fmt.Errorf("trailing data after JSON value")
	}
	return value, nil
}

// Compare two JSON documents semantically, ignoring whitespace and key order.
// Numbers are compared by their literal representation, so 1 and 1.0 differ.
func JSONStringsEqual(a, b []byte) (bool, error) {
	dataA, err := decodeWithNumbers(a)
	if err != nil {
		return false, err
	}

	dataB, err := decodeWithNumbers(b)
	if err != nil {
		return false, err
	}

	return reflect.DeepEqual(dataA, dataB), nil
}
