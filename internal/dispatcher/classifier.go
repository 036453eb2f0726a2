package dispatcher

import (
	"errors"
	"fmt"
	"net/http"
	"regexp/syntax"
	"runtime"
	"strconv"
)

// Classifier decides whether a failure is fatal. A fatal failure aborts
// the whole request immediately; anything else permits trying another
// endpoint.
type Classifier func(err error) bool

// ClassifierGroup combines classifiers; the failure is fatal if any
// member says so.
type ClassifierGroup []Classifier

// Fatal reports whether any classifier in the group matches err.
func (g ClassifierGroup) Fatal(err error) bool {
	for _, c := range g {
		if c(err) {
			return true
		}
	}
	return false
}

// StatusError carries an HTTP-like status code on a failure so the default
// classifier can examine it. Callers whose operations speak HTTP wrap
// upstream failures in it; the dispatcher itself attaches no protocol
// meaning beyond the code.
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("HTTP %d: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("HTTP %d", e.Code)
}

func (e *StatusError) Unwrap() error { return e.Err }

// StatusCode exposes the code to the classifier's status probe.
func (e *StatusError) StatusCode() int { return e.Code }

// programErrorClassifiers is the built-in always-fatal set: failures in
// these categories indicate a bug in the caller's operation, not a bad
// endpoint, so trying another endpoint cannot help.
// 程序性错误换端点也无济于事，必须立即中止
var programErrorClassifiers = ClassifierGroup{
	isRuntimeError,
	isNumError,
	isRegexpSyntaxError,
}

func isRuntimeError(err error) bool {
	var re runtime.Error
	return errors.As(err, &re)
}

func isNumError(err error) bool {
	var ne *strconv.NumError
	return errors.As(err, &ne)
}

func isRegexpSyntaxError(err error) bool {
	var se *syntax.Error
	return errors.As(err, &se)
}

// DefaultClassifier implements the built-in fatal rules:
//  1. programmer-error categories are always fatal;
//  2. a failure exposing an HTTP status code is fatal iff the code is in
//     [400,500) and not 408 (Request Timeout); the status code is the most
//     specific signal available and outranks any error-type heuristics;
//  3. everything else is retryable.
func DefaultClassifier(err error) bool {
	if programErrorClassifiers.Fatal(err) {
		return true
	}
	if code, ok := httpStatus(err); ok {
		return code >= 400 && code < 500 && code != http.StatusRequestTimeout
	}
	return false
}

// httpStatus probes err for an HTTP-status-like value. Both the
// StatusCode and HTTPStatusCode spellings are recognized so third-party
// error types work without wrapping.
func httpStatus(err error) (int, bool) {
	var sc interface{ StatusCode() int }
	if errors.As(err, &sc) {
		return sc.StatusCode(), true
	}
	var hsc interface{ HTTPStatusCode() int }
	if errors.As(err, &hsc) {
		return hsc.HTTPStatusCode(), true
	}
	return 0, false
}

// normalizeFatal resolves the Fatal option into a canonical Classifier,
// once, at construction. Accepted shapes: nil (default rules), a
// Classifier or plain predicate, a single sentinel error, or a set of
// sentinel errors (matched via errors.Is).
func normalizeFatal(v any) (Classifier, error) {
	switch f := v.(type) {
	case nil:
		return DefaultClassifier, nil
	case Classifier:
		if f == nil {
			return DefaultClassifier, nil
		}
		return f, nil
	case func(error) bool:
		if f == nil {
			return DefaultClassifier, nil
		}
		return f, nil
	case []error:
		targets := make([]error, len(f))
		copy(targets, f)
		return func(err error) bool {
			for _, t := range targets {
				if errors.Is(err, t) {
					return true
				}
			}
			return false
		}, nil
	case error:
		return func(err error) bool {
			return errors.Is(err, f)
		}, nil
	default:
		return nil, configErrorf("unsupported fatal option type %T", v)
	}
}
