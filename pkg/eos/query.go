package eos

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openfroyo/netconverge/pkg/engine"
	"github.com/tidwall/gjson"
)

// queryJSON runs command as JSON and returns the object keyed by id under
// collection. Not-found responses and missing keys both read as absent.
func queryJSON(ctx context.Context, device engine.Device, command, collection, id string) (gjson.Result, error) {
	out, err := device.Query(ctx, command, engine.FormatJSON)
	if errors.Is(err, engine.ErrNotFound) {
		return gjson.Result{}, engine.ErrAbsent
	}
	if err != nil {
		return gjson.Result{}, err
	}

	if !gjson.Valid(out) {
		return gjson.Result{}, fmt.Errorf("%s: malformed JSON response", command)
	}

	node := gjson.Get(out, collection+"."+escapePath(id))
	if !node.Exists() {
		return gjson.Result{}, engine.ErrAbsent
	}
	return node, nil
}

// escapePath escapes gjson path metacharacters, e.g. the dot in
// "Ethernet1/1.100".
func escapePath(key string) string {
	var sb strings.Builder
	for _, r := range key {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\', '!', '=', '<', '>', '%':
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
