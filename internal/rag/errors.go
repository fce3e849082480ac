package rag

import (
	"errors"
	"fmt"
)

// Kind classifies retrieval failures so callers can branch on the kind
// rather than on error text.
type Kind int

const (
	// KindMissingSource means a configured document file does not exist.
	KindMissingSource Kind = iota + 1
	// KindLoadFailure means a document could not be parsed, embedded or indexed.
	KindLoadFailure
	// KindQueryFailure means embedding or reranking failed at query time.
	KindQueryFailure
	// KindEmptyIndex means no chunks are available. It is reported, not raised:
	// queries against an empty index return an empty result.
	KindEmptyIndex
)

// Sentinels matched by errors.Is against an *Error of the same Kind.
var (
	ErrMissingSource = errors.New("missing source")
	ErrLoadFailure   = errors.New("load failure")
	ErrQueryFailure  = errors.New("query failure")
	ErrEmptyIndex    = errors.New("empty index")
)

// String returns the lowercase kind name used in logs and API responses.
func (k Kind) String() string {
	switch k {
	case KindMissingSource:
		return "missing_source"
	case KindLoadFailure:
		return "load_failure"
	case KindQueryFailure:
		return "query_failure"
	case KindEmptyIndex:
		return "empty_index"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindMissingSource:
		return ErrMissingSource
	case KindLoadFailure:
		return ErrLoadFailure
	case KindQueryFailure:
		return ErrQueryFailure
	case KindEmptyIndex:
		return ErrEmptyIndex
	default:
		return nil
	}
}

// Error is the tagged error returned by loading and querying.
type Error struct {
	// Kind classifies the failure.
	Kind Kind
	// Source names the document involved, if any.
	Source string
	// Err is the underlying cause. May be nil.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := "rag: " + e.Kind.sentinel().Error()
	if e.Source != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Source)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's Kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return 0
}
