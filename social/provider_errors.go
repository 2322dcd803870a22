package social

import (
	"errors"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
)

// ProviderError carries the provider response details of a failed call.
type ProviderError struct {
	Provider    string
	Operation   string
	Status      int
	Code        string
	Description string
	Err         error
}

func (e *ProviderError) Error() string {
	scope := e.Provider + " " + e.Operation
	switch {
	case e.Description != "":
		return fmt.Sprintf("%s failed: %s", scope, e.Description)
	case e.Code != "":
		return fmt.Sprintf("%s failed: %s", scope, e.Code)
	case e.Err != nil:
		return fmt.Sprintf("%s failed: %v", scope, e.Err)
	}
	return scope + " failed"
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func (e *ProviderError) metadata() map[string]any {
	meta := map[string]any{
		"provider":  e.Provider,
		"operation": e.Operation,
	}
	if e.Status != 0 {
		meta["status"] = e.Status
	}
	if e.Code != "" {
		meta["code"] = e.Code
	}
	return meta
}

// wrapProviderError clones base and attaches the provider details of err.
func wrapProviderError(base *goerrors.Error, provider string, err error) error {
	meta := map[string]any{"provider": provider}

	var perr *ProviderError
	if errors.As(err, &perr) {
		for k, v := range perr.metadata() {
			meta[k] = v
		}
	}

	clone := base.Clone()
	clone.Source = err
	return clone.WithMetadata(meta)
}
