package ldp

import (
	"errors"
	"fmt"
)

// ClientError wraps a non-success HTTP response from the repository.
type ClientError struct {
	StatusCode int
	Reason     string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("%d %s", e.StatusCode, e.Reason)
}

// IsClientError reports whether err wraps a repository error with the given
// status code.
func IsClientError(err error, statusCode int) bool {
	var ce *ClientError
	return errors.As(err, &ce) && ce.StatusCode == statusCode
}

// ErrTransactionFailed is returned for any request made through a
// transaction whose keep-alive has failed, and for failed commits and
// rollbacks. The underlying cause is wrapped.
var ErrTransactionFailed = errors.New("transaction failed")

// ErrTransactionActive is returned by Begin when the client already has an
// open transaction; nesting is not supported by the repository.
var ErrTransactionActive = errors.New("transaction already active")

// ErrNoTransaction is returned by Commit and Rollback when no transaction
// is open.
var ErrNoTransaction = errors.New("no active transaction")
