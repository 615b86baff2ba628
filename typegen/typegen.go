// Package typegen renders TypeScript declarations for the channels of a
// set of route modules, so a web UI can type its window.api calls.
package typegen

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/jmcleod/clinicdesk/ipc"
	"github.com/jmcleod/clinicdesk/routes"
)

// DeclarationFile is the file name of the generated declarations.
const DeclarationFile = "ipc-channels.d.ts"

const header = `// Code generated by clinicdesk gen. DO NOT EDIT.

type Invoke<Args = unknown, Result = unknown> = (args?: Args) => Promise<Result>
`

var nonIdent = regexp.MustCompile(`[^a-zA-Z0-9]`)

type channelTypes struct {
	alias      string
	channel    string
	export     string
	argsType   string
	resultType string
	args       string
	result     string
}

type moduleTypes struct {
	alias    string
	channels []channelTypes
}

// Generate renders declarations for every export that would be registered
// from modules. Exports are handled in order and a repeated channel keeps
// its first definition.
func Generate(modules []routes.Module) ([]byte, error) {
	var (
		mods     []*moduleTypes
		byAlias  = map[string]*moduleTypes{}
		seen     = map[string]bool{}
		channels []string
		types    = map[string]channelTypes{}
	)
	for _, mod := range modules {
		base := mod.Prefix()
		if base == "" || mod.IsLoader() {
			continue
		}
		alias := "Mod_" + nonIdent.ReplaceAllString(base, "_")
		mt, ok := byAlias[alias]
		if !ok {
			mt = &moduleTypes{alias: alias}
			byAlias[alias] = mt
			mods = append(mods, mt)
		}
		for _, exp := range mod.Exports {
			if exp.Handler == nil {
				continue
			}
			channel := mod.Channel(exp.Name)
			if seen[channel] {
				continue
			}
			seen[channel] = true

			name := nonIdent.ReplaceAllString(exp.Name, "_")
			ct := channelTypes{
				alias:      alias,
				channel:    channel,
				export:     name,
				argsType:   fmt.Sprintf("Args_%s_%s", alias, name),
				resultType: fmt.Sprintf("Result_%s_%s", alias, name),
				args:       renderArgs(exp.Args),
				result:     Render(exp.Result),
			}
			mt.channels = append(mt.channels, ct)
			channels = append(channels, channel)
			types[channel] = ct
		}
	}

	var buf bytes.Buffer
	buf.WriteString(header)

	for _, mt := range mods {
		if len(mt.channels) == 0 {
			continue
		}
		fmt.Fprintf(&buf, "\ndeclare namespace %s {\n", mt.alias)
		for _, ct := range mt.channels {
			fmt.Fprintf(&buf, "  type %s_Args = %s\n", ct.export, ct.args)
			fmt.Fprintf(&buf, "  type %s_Result = %s\n", ct.export, ct.result)
		}
		buf.WriteString("}\n")
	}

	buf.WriteString("\n")
	for _, ch := range channels {
		ct := types[ch]
		fmt.Fprintf(&buf, "type %s = %s.%s_Args\n", ct.argsType, ct.alias, ct.export)
		fmt.Fprintf(&buf, "type %s = %s.%s_Result\n", ct.resultType, ct.alias, ct.export)
	}

	tree := ipc.BuildTree(channels, nil)
	buf.WriteString("\ndeclare global {\n  interface Window {\n    api: {\n")
	renderTree(&buf, tree, 6, "", types)
	buf.WriteString("    }\n  }\n}\n\nexport {}\n")
	return buf.Bytes(), nil
}

func renderTree(buf *bytes.Buffer, tree ipc.Tree, indent int, prefix string, types map[string]channelTypes) {
	keys := make([]string, 0, len(tree))
	for k := range tree {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	space := strings.Repeat(" ", indent)
	for _, key := range keys {
		full := key
		if prefix != "" {
			full = prefix + ipc.Delimiter + key
		}
		switch v := tree[key].(type) {
		case ipc.Tree:
			fmt.Fprintf(buf, "%s%s: {\n", space, key)
			renderTree(buf, v, indent+2, full, types)
			fmt.Fprintf(buf, "%s}\n", space)
		default:
			sig := "Invoke"
			if ct, ok := types[full]; ok {
				sig = fmt.Sprintf("Invoke<%s, %s>", ct.argsType, ct.resultType)
			}
			fmt.Fprintf(buf, "%s%s: %s\n", space, key, sig)
		}
	}
}

var (
	timeType    = reflect.TypeFor[time.Time]()
	rawType     = reflect.TypeFor[json.RawMessage]()
	noArgsType  = reflect.TypeFor[ipc.NoArgs]()
	marshalType = reflect.TypeFor[json.Marshaler]()
)

func renderArgs(t reflect.Type) string {
	if t == noArgsType {
		return "void"
	}
	return Render(t)
}

// Render returns the TypeScript type of values of t as encoding/json
// would produce them. A nil type renders as unknown.
func Render(t reflect.Type) string {
	return render(t, map[reflect.Type]bool{})
}

func render(t reflect.Type, visiting map[reflect.Type]bool) string {
	if t == nil {
		return "unknown"
	}
	switch t {
	case timeType:
		return "string"
	case rawType:
		return "unknown"
	case noArgsType:
		return "Record<string, never>"
	}

	switch t.Kind() {
	case reflect.Pointer:
		return render(t.Elem(), visiting) + " | null"
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Slice, reflect.Array:
		if t.Elem().Kind() == reflect.Uint8 {
			return "string"
		}
		elem := render(t.Elem(), visiting)
		if strings.Contains(elem, "|") {
			elem = "(" + elem + ")"
		}
		return elem + "[]"
	case reflect.Map:
		return fmt.Sprintf("Record<string, %s>", render(t.Elem(), visiting))
	case reflect.Struct:
		if t.Implements(marshalType) || reflect.PointerTo(t).Implements(marshalType) {
			return "unknown"
		}
		if visiting[t] {
			return "unknown"
		}
		visiting[t] = true
		defer delete(visiting, t)
		return renderStruct(t, visiting)
	}
	return "unknown"
}

func renderStruct(t reflect.Type, visiting map[reflect.Type]bool) string {
	fields := structFields(t, visiting)
	if len(fields) == 0 {
		return "Record<string, never>"
	}
	return "{ " + strings.Join(fields, "; ") + " }"
}

func structFields(t reflect.Type, visiting map[reflect.Type]bool) []string {
	var out []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")

		if f.Anonymous && name == "" {
			ft := f.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				out = append(out, structFields(ft, visiting)...)
				continue
			}
		}
		if !f.IsExported() {
			continue
		}
		if name == "" {
			name = f.Name
		}
		optional := ""
		if strings.Contains(opts, "omitempty") || strings.Contains(opts, "omitzero") {
			optional = "?"
		}
		out = append(out, fmt.Sprintf("%s%s: %s", quoteKey(name), optional, render(f.Type, visiting)))
	}
	return out
}

var plainKey = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

func quoteKey(name string) string {
	if plainKey.MatchString(name) {
		return name
	}
	return fmt.Sprintf("%q", name)
}
