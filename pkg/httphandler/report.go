package httphandler

import (
	"net/http"

	// Packages
	auth "github.com/mutablelogic/go-relaypacs/pkg/auth"
	manager "github.com/mutablelogic/go-relaypacs/pkg/manager"
	schema "github.com/mutablelogic/go-relaypacs/pkg/schema"
	httprequest "github.com/mutablelogic/go-server/pkg/httprequest"
	httpresponse "github.com/mutablelogic/go-server/pkg/httpresponse"
	jsonschema "github.com/mutablelogic/go-server/pkg/jsonschema"
)

///////////////////////////////////////////////////////////////////////////////
// HANDLER FUNCTIONS

// Path: report/{study}
// GET returns the report for a study, if the PACS has one.
func ReportHandler(mgr *manager.Manager, authority *auth.Authority) (string, *jsonschema.Schema, httprequest.PathItem) {
	return "report/{study}", nil, httprequest.NewPathItem(
		"Report", "Study reports", "Report",
	).Get(func(w http.ResponseWriter, r *http.Request) {
		_ = reportGet(w, r, mgr, authority)
	}, "Get the report for a study")
}

///////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func reportGet(w http.ResponseWriter, r *http.Request, mgr *manager.Manager, authority *auth.Authority) error {
	if _, err := verify(r, authority, schema.TokenAccess); err != nil {
		return httpresponse.Error(w, err)
	}

	resp, err := mgr.Report(r.Context(), r.PathValue("study"))
	if err != nil {
		return httpresponse.Error(w, err)
	}

	return httpresponse.JSON(w, http.StatusOK, httprequest.Indent(r), resp)
}
