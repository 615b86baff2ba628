// Package routes turns a table of handler modules into router channels.
// A module stands for one handler file: its path gives the channel
// prefix and each export becomes one channel under it.
package routes

import (
	"log/slog"
	"path"
	"reflect"
	"strings"

	"github.com/jmcleod/clinicdesk/ipc"
	"github.com/jmcleod/clinicdesk/session"
)

// DefaultExport is the export name that maps to the bare module prefix.
const DefaultExport = "default"

// loaderModule is skipped during registration.
const loaderModule = "loader"

// rootSegment is dropped when it leads a module path.
const rootSegment = "routes"

// Export is one callable exposed by a module. Args and Result describe
// the handler's JSON shapes and are nil for untyped exports.
type Export struct {
	Name    string
	Handler ipc.Handler
	Args    reflect.Type
	Result  reflect.Type
}

// Func exports a typed handler.
func Func[A, R any](name string, fn func(c *ipc.Call, args A) (R, error)) Export {
	return Export{
		Name:    name,
		Handler: ipc.Bind(fn),
		Args:    reflect.TypeFor[A](),
		Result:  reflect.TypeFor[R](),
	}
}

// Raw exports an untyped handler.
func Raw(name string, h ipc.Handler) Export {
	return Export{Name: name, Handler: h}
}

// Module is a group of exports sharing a channel prefix and middleware
// policy.
type Module struct {
	// Path is the module's file path relative to the handler root, for
	// example "query/patient.go".
	Path        string
	Middlewares []ipc.Middleware
	// RequireSession appends session enforcement to Middlewares when the
	// loader has a session store.
	RequireSession bool
	Exports        []Export
}

// Prefix returns the channel prefix derived from the module path.
func (m Module) Prefix() string {
	return prefix(m.Path)
}

// IsLoader reports whether m is the loader module, which is never
// registered.
func (m Module) IsLoader() bool {
	return isLoader(m.Path)
}

// Channel returns the channel name for export.
func (m Module) Channel(export string) string {
	return ChannelName(m.Path, export)
}

// ChannelName derives a channel from a module path and export name:
// "query/patient.ts" with "list" gives "query:patient:list", and with
// "default" gives "query:patient".
func ChannelName(modulePath, export string) string {
	base := prefix(modulePath)
	if export == DefaultExport {
		return base
	}
	if base == "" {
		return export
	}
	return base + ipc.Delimiter + export
}

func prefix(modulePath string) string {
	p := strings.ReplaceAll(modulePath, `\`, "/")
	p = strings.TrimPrefix(p, "./")
	p = strings.TrimSuffix(p, path.Ext(p))

	var segments []string
	for i, seg := range strings.Split(p, "/") {
		if seg == "" || seg == "." {
			continue
		}
		if i == 0 && seg == rootSegment {
			continue
		}
		segments = append(segments, seg)
	}
	return strings.Join(segments, ipc.Delimiter)
}

func isLoader(modulePath string) bool {
	p := strings.ReplaceAll(modulePath, `\`, "/")
	base := path.Base(p)
	return strings.TrimSuffix(base, path.Ext(base)) == loaderModule
}

type options struct {
	sessions *session.Store
	logger   *slog.Logger
}

// Option configures Register.
type Option func(*options)

// WithSessions supplies the store used for modules that require a session.
// Without it RequireSession has no effect.
func WithSessions(store *session.Store) Option {
	return func(o *options) { o.sessions = store }
}

// WithLogger sets the logger used to report registrations.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Register registers every export of every module with router. Failures
// are logged and do not stop the remaining registrations. It returns the
// number of channels registered.
func Register(router *ipc.Router, modules []Module, opts ...Option) int {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.With("component", "routes")

	registered := 0
	for _, mod := range modules {
		if mod.IsLoader() {
			continue
		}
		mws := append([]ipc.Middleware(nil), mod.Middlewares...)
		if mod.RequireSession && o.sessions != nil {
			mws = append(mws, ipc.WithSession(o.sessions))
		}
		for _, exp := range mod.Exports {
			if exp.Handler == nil {
				continue
			}
			channel := mod.Channel(exp.Name)
			if err := router.Register(channel, mws, exp.Handler); err != nil {
				logger.Warn("failed to register route", "channel", channel, "module", mod.Path, "error", err)
				continue
			}
			logger.Debug("registered route", "channel", channel)
			registered++
		}
	}
	return registered
}
