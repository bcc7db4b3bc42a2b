package turnwatch

import (
	"io"

	"github.com/hazyhaar/chatscribe/turnwatch/internal/dom"
)

// Tx mutates a Document inside Document.Update.
type Tx = dom.Tx

// ReadyState mirrors document.readyState.
type ReadyState = dom.ReadyState

const (
	Loading     = dom.Loading
	Interactive = dom.Interactive
	Complete    = dom.Complete
)

// NewDocument returns an empty document in the loading state. Sessions
// wait until it is marked Interactive.
func NewDocument() *Document {
	return dom.New()
}

// ParseDocument builds a complete document from HTML.
func ParseDocument(r io.Reader) (*Document, error) {
	return dom.Parse(r)
}
