package extraction

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/ternarybob/pactum/internal/interfaces"
	"github.com/ternarybob/pactum/internal/models"
)

// ErrSemantic marks an oracle reply that cannot be used: not JSON, or JSON of the wrong shape
var ErrSemantic = errors.New("unusable oracle payload")

// transientMarkers are substrings of transport failures that reach us only as text
var transientMarkers = []string{
	"connection reset",
	"connection refused",
	"broken pipe",
	"unexpected eof",
	"tls handshake timeout",
	"i/o timeout",
	"resource_exhausted",
	"server overloaded",
}

// Classify maps an oracle error to connection or semantic. ok is false for errors that
// belong to neither kind (bad credentials, invalid requests, programming errors); those propagate.
func Classify(err error) (kind models.ErrorKind, ok bool) {
	if err == nil {
		return models.ErrorKindNone, true
	}

	if errors.Is(err, ErrSemantic) {
		return models.ErrorKindSemantic, true
	}

	var statusErr *interfaces.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.Retryable() {
			return models.ErrorKindConnection, true
		}
		return models.ErrorKindNone, false
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return models.ErrorKindConnection, true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return models.ErrorKindConnection, true
	}

	lower := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(lower, marker) {
			return models.ErrorKindConnection, true
		}
	}

	return models.ErrorKindNone, false
}

// retryAfter returns the server-suggested delay carried by err, 0 when absent
func retryAfter(err error) time.Duration {
	var statusErr *interfaces.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.RetryAfter
	}
	return 0
}
