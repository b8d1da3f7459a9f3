package httpclient

import (
	// Packages
	client "github.com/mutablelogic/go-client"
	schema "github.com/mutablelogic/go-relaypacs/pkg/schema"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

// Client is a relaypacs HTTP client that wraps the base HTTP client
// and provides typed methods for interacting with the upload API.
type Client struct {
	*client.Client
}

///////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// New creates a new relaypacs HTTP client with the given base URL and options.
// The url parameter should point to the API endpoint, e.g.
// "http://localhost:8080/api/relaypacs".
func New(url string, opts ...client.ClientOpt) (*Client, error) {
	cl, err := client.New(append(opts, client.OptEndpoint(url))...)
	if err != nil {
		return nil, err
	}
	return &Client{cl}, nil
}

///////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

// bearer returns the request option which sends the credential
func bearer(token string) client.RequestOpt {
	return client.OptReqHeader(schema.AuthorizationHeader, schema.BearerScheme+" "+token)
}
