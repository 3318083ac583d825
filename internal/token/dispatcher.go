package token

// Dispatcher is the host's submission surface. Each call synchronously
// accepts or rejects an encoded envelope; delivery to the other chain happens
// later through the inbound handlers.
type Dispatcher interface {
	SubmitPost(envelope []byte) error
	SubmitGet(envelope []byte) error
	// SubmitResponse sends the acknowledgment for an accepted Post request.
	// Only called from within OnAccept.
	SubmitResponse(envelope []byte) error
}
