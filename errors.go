package sitecache

import (
	"errors"
	"fmt"
)

var (
	// ErrNotActive is returned by OnFetch before the controller was activated.
	ErrNotActive = errors.New("sitecache: controller not active")
	// ErrInvalidState is returned when a lifecycle event arrives out of order.
	ErrInvalidState = errors.New("sitecache: invalid lifecycle state")
	// ErrNoResponse is returned when neither network nor cache could produce a response.
	ErrNoResponse = errors.New("sitecache: no response")
	// ErrGenerationDeleted is returned when writing into a generation that was
	// deleted, typically by a newer version's activation.
	ErrGenerationDeleted = errors.New("sitecache: generation deleted")
	// ErrStoreRejected is returned when the provider refused a write under pressure.
	ErrStoreRejected = errors.New("sitecache: store rejected write")
)

// InstallError reports why a generation could not be installed.
// Path is empty when the failure happened while storing, not fetching.
type InstallError struct {
	Version string
	Path    string
	Status  int // non-ok HTTP status, 0 for transport/store errors
	Err     error
}

func (e *InstallError) Error() string {
	switch {
	case e.Path != "" && e.Status != 0:
		return fmt.Sprintf("install %q: fetch %s: bad status %d", e.Version, e.Path, e.Status)
	case e.Path != "":
		return fmt.Sprintf("install %q: fetch %s: %v", e.Version, e.Path, e.Err)
	default:
		return fmt.Sprintf("install %q: populate: %v", e.Version, e.Err)
	}
}

func (e *InstallError) Unwrap() error { return e.Err }

// badStatusError marks a manifest response that was fetched but not ok.
type badStatusError struct {
	status int
}

func (e badStatusError) Error() string { return fmt.Sprintf("bad status %d", e.status) }
