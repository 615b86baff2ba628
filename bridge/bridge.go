// Package bridge rebuilds the nested call API of the privileged process
// from its namespace tree, the way a UI binds window.api.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jmcleod/clinicdesk/ipc"
)

// InvokeFunc sends args to channel and returns the raw JSON result.
type InvokeFunc func(ctx context.Context, channel string, args any) (json.RawMessage, error)

// Invoker is a leaf of an API, bound to one channel.
type Invoker func(ctx context.Context, args any) (json.RawMessage, error)

// API is a nested namespace whose values are either API or Invoker.
type API map[string]any

// Build walks tree and binds every leaf to invoke under its full channel
// name. Only leaves marked true become Invokers.
func Build(tree map[string]any, invoke InvokeFunc) API {
	return build(tree, "", invoke)
}

func build(tree map[string]any, prefix string, invoke InvokeFunc) API {
	api := API{}
	for key, value := range tree {
		full := key
		if prefix != "" {
			full = prefix + ipc.Delimiter + key
		}
		switch v := value.(type) {
		case bool:
			if v {
				api[key] = bind(full, invoke)
			}
		case ipc.Tree:
			api[key] = build(v, full, invoke)
		case map[string]any:
			api[key] = build(v, full, invoke)
		}
	}
	return api
}

func bind(channel string, invoke InvokeFunc) Invoker {
	return func(ctx context.Context, args any) (json.RawMessage, error) {
		return invoke(ctx, channel, args)
	}
}

// Lookup resolves a channel such as "query:patient:list" to its Invoker.
func (a API) Lookup(channel string) (Invoker, bool) {
	node := a
	parts := strings.Split(channel, ipc.Delimiter)
	for i, part := range parts {
		value, ok := node[part]
		if !ok {
			return nil, false
		}
		if i == len(parts)-1 {
			inv, ok := value.(Invoker)
			return inv, ok
		}
		child, ok := value.(API)
		if !ok {
			return nil, false
		}
		node = child
	}
	return nil, false
}

// Call invokes channel with args and decodes the result into out, which
// may be nil to discard it.
func (a API) Call(ctx context.Context, channel string, args, out any) error {
	inv, ok := a.Lookup(channel)
	if !ok {
		return fmt.Errorf("%s: %w", channel, ipc.ErrUnknownChannel)
	}
	raw, err := inv(ctx, args)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding %s result: %w", channel, err)
	}
	return nil
}
