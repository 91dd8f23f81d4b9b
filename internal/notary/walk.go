package notary

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Field is a terminal value of a message and its JSONPath-like address.
type Field struct {
	Path  string
	Value string
}

// Flatten walks a JSON document in document order and returns every
// non-empty scalar with its path, e.g. $['headers']['ocpi-to-party-id'].
// Nulls and empty strings contribute nothing. Numbers keep their literal
// text. Duplicate object keys are rejected.
func Flatten(message []byte) ([]Field, error) {
	dec := json.NewDecoder(bytes.NewReader(message))
	dec.UseNumber()

	var fields []Field
	seen := make(map[string]struct{})
	if err := walk(dec, "$", &fields, seen); err != nil {
		return nil, fmt.Errorf("walk message: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("walk message: trailing data after JSON value")
	}
	return fields, nil
}

func walk(dec *json.Decoder, path string, out *[]Field, seen map[string]struct{}) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}

	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			keys := make(map[string]struct{})
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return err
				}
				key, ok := keyTok.(string)
				if !ok {
					return fmt.Errorf("unexpected object key %v at %s", keyTok, path)
				}
				if _, dup := keys[key]; dup {
					return fmt.Errorf("duplicate key %q at %s", key, path)
				}
				keys[key] = struct{}{}
				if err := walk(dec, path+"['"+escapeKey(key)+"']", out, seen); err != nil {
					return err
				}
			}
		case '[':
			for i := 0; dec.More(); i++ {
				if err := walk(dec, path+"["+strconv.Itoa(i)+"]", out, seen); err != nil {
					return err
				}
			}
		default:
			return fmt.Errorf("unexpected delimiter %v at %s", t, path)
		}
		// closing delimiter
		_, err := dec.Token()
		return err
	case string:
		return appendField(out, seen, path, t)
	case json.Number:
		return appendField(out, seen, path, t.String())
	case bool:
		return appendField(out, seen, path, strconv.FormatBool(t))
	case nil:
		return nil
	}
	return fmt.Errorf("unexpected token %v at %s", tok, path)
}

func appendField(out *[]Field, seen map[string]struct{}, path, value string) error {
	if value == "" {
		return nil
	}
	if _, dup := seen[path]; dup {
		return fmt.Errorf("duplicate path %s", path)
	}
	seen[path] = struct{}{}
	*out = append(*out, Field{Path: path, Value: value})
	return nil
}

var keyEscaper = strings.NewReplacer(`\`, `\\`, "'", `\'`)

func escapeKey(key string) string {
	return keyEscaper.Replace(key)
}

// stateOf indexes fields by path.
func stateOf(fields []Field) map[string]string {
	state := make(map[string]string, len(fields))
	for _, f := range fields {
		state[f.Path] = f.Value
	}
	return state
}

func pathsOf(fields []Field) []string {
	paths := make([]string, len(fields))
	for i, f := range fields {
		paths[i] = f.Path
	}
	return paths
}
