package protocol

import (
	"strings"

	mcperrors "github.com/ajitpratap0/mcp-engine-go/pkg/errors"
)

// RootURIScheme is the only scheme a root URI may use.
const RootURIScheme = "file://"

// Root is a filesystem boundary the client exposes to the server.
type Root struct {
	URI  string `json:"uri"`
	Name string `json:"name,omitempty"`
	Meta Meta   `json:"_meta,omitempty"`
}

// NewRoot builds a Root, rejecting URIs that are not file:// URIs.
func NewRoot(uri, name string) (Root, error) {
	r := Root{URI: uri, Name: name}
	if err := r.Validate(); err != nil {
		return Root{}, err
	}
	return r, nil
}

// Validate checks the URI scheme.
func (r Root) Validate() error {
	if r.URI == "" {
		return mcperrors.RequiredFieldMissing("root.uri")
	}
	if !strings.HasPrefix(r.URI, RootURIScheme) {
		return mcperrors.InvalidFormat("root.uri", r.URI, "a file:// URI")
	}
	return nil
}

// ListRootsResult answers roots/list.
type ListRootsResult struct {
	Meta  Meta   `json:"_meta,omitempty"`
	Roots []Root `json:"roots"`
}
