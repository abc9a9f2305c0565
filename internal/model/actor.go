package model

// Actor is the authenticated operator behind a request, as seen by the core.
type Actor struct {
	ID        int64
	Role      string
	Origin    OriginClass
	RequestID string
}
