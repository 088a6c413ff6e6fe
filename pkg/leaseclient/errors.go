package leaseclient

import "fmt"

// ConflictError reports that the resource is leased by a different holder.
// It is the expected, user-facing denial; transport failures are returned as
// plain errors instead.
type ConflictError struct {
	ResourceID        string
	Reason            string
	HolderDescription string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("lease not granted: resource=%s reason=%s holder=%s",
		e.ResourceID, e.Reason, e.HolderDescription)
}

type UnexpectedStatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("unexpected status: %s %s -> %d body=%q", e.Method, e.Path, e.Code, e.Body)
}
