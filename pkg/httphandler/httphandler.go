package httphandler

import (
	"errors"

	// Packages
	auth "github.com/mutablelogic/go-relaypacs/pkg/auth"
	manager "github.com/mutablelogic/go-relaypacs/pkg/manager"
	httprequest "github.com/mutablelogic/go-server/pkg/httprequest"
	jsonschema "github.com/mutablelogic/go-server/pkg/jsonschema"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

// Router is the interface required to register HTTP handlers. Paths are
// relative to the router prefix.
type Router interface {
	RegisterPath(path string, params *jsonschema.Schema, pathitem httprequest.PathItem) error
}

// handlerFunc returns the path, path parameters and handlers of a route
type handlerFunc func(*manager.Manager, *auth.Authority) (string, *jsonschema.Schema, httprequest.PathItem)

///////////////////////////////////////////////////////////////////////////////
// GLOBALS

var routes = []handlerFunc{
	InitHandler,
	ChunkHandler,
	CompleteHandler,
	StatusHandler,
	SessionHandler,
	ReportHandler,
}

///////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// RegisterHandlers registers the upload session and report routes. Every
// route verifies a bearer credential with the authority.
func RegisterHandlers(mgr *manager.Manager, authority *auth.Authority, router Router) error {
	var result error
	for _, route := range routes {
		path, params, pathitem := route(mgr, authority)
		if err := router.RegisterPath(path, params, pathitem); err != nil {
			result = errors.Join(result, err)
		}
	}
	return result
}
