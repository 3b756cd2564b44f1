package rmsync

import (
	"bytes"
	"encoding"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"

	"gopkg.in/yaml.v3"
)

// marshalKey renders a map key as a JSON object key using the same
// rules as encoding/json: string kinds are used as is, then
// encoding.TextMarshaler, then integer kinds.
func marshalKey[K comparable](key K) (string, error) {
	rv := reflect.ValueOf(&key).Elem()
	if rv.Kind() == reflect.String {
		return rv.String(), nil
	}
	if tm, ok := any(key).(encoding.TextMarshaler); ok {
		if rv.Kind() == reflect.Pointer && rv.IsNil() {
			return "", nil
		}
		b, err := tm.MarshalText()
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(rv.Uint(), 10), nil
	}
	return "", fmt.Errorf("unsupported map key type: %s", rv.Type())
}

// marshalOrderedJSON writes the pairs produced by each as a JSON
// object, keeping the iteration order.
func marshalOrderedJSON[K comparable, V any](each func(f func(K, V) bool)) ([]byte, error) {
	var (
		buf bytes.Buffer
		err error
	)
	buf.WriteByte('{')
	first := true
	each(func(k K, v V) bool {
		var ks string
		if ks, err = marshalKey(k); err != nil {
			return false
		}
		var kb, vb []byte
		if kb, err = json.Marshal(ks); err != nil {
			return false
		}
		if vb, err = json.Marshal(v); err != nil {
			return false
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
		return true
	})
	if err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// marshalOrderedYAML builds a YAML mapping node from the pairs
// produced by each, keeping the iteration order.
func marshalOrderedYAML[K comparable, V any](each func(f func(K, V) bool)) (*yaml.Node, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	var err error
	each(func(k K, v V) bool {
		var kn, vn yaml.Node
		if err = kn.Encode(k); err != nil {
			return false
		}
		if err = vn.Encode(v); err != nil {
			return false
		}
		node.Content = append(node.Content, &kn, &vn)
		return true
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}
