package diagnostics

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	slogctx "github.com/veqryn/slog-context"

	"ocm.software/open-component-model/server/internal/errdefs"
	"ocm.software/open-component-model/server/internal/router"
)

const (
	// ErrorsPattern is the route serving captured records.
	ErrorsPattern = "/server/errors/{id}"
	// TerminalMediaType selects bodies with markup tags intact. Text inside
	// the tags has &, < and > escaped as entities.
	TerminalMediaType = "application/x-ocm-terminal"
)

// CorrelatedError is an error that went through Capture.
type CorrelatedError struct {
	ID  string
	Err error
}

func (e *CorrelatedError) Error() string { return e.Err.Error() }
func (e *CorrelatedError) Unwrap() error { return e.Err }

// CorrelationID returns the ID attached to err by Capture.
func CorrelationID(err error) (string, bool) {
	var ce *CorrelatedError
	if errors.As(err, &ce) {
		return ce.ID, true
	}
	return "", false
}

// Capture records err in log and passes it on with a correlation ID attached.
// Requests no route serves are not recorded.
func Capture(log *Log) router.ErrorHandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, err error) error {
		if _, ok := CorrelationID(err); ok || errors.Is(err, router.ErrNoRoute) {
			return err
		}
		rec := log.Record(err.Error(), stackOf(err))

		ctx := r.Context()
		status := errdefs.StatusCode(err)
		level := slog.LevelWarn
		if Classify(status) != ClassClient {
			level = slog.LevelError
		}
		slogctx.FromCtx(ctx).Log(ctx, level, "request failed",
			slog.String("error_id", rec.ID),
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)
		return &CorrelatedError{ID: rec.ID, Err: err}
	}
}

// Present writes the error body for terminal and plain clients.
func Present() router.ErrorHandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, err error) error {
		if router.Started(w) {
			return err
		}
		flavor := Negotiate(r.Header.Get("Accept"))
		if flavor == FlavorBrowser {
			return err
		}

		status := errdefs.StatusCode(err)
		body := Message(status, err)
		contentType := "text/plain; charset=utf-8"
		if flavor == FlavorTerminal {
			contentType = TerminalMediaType + "; charset=utf-8"
		} else {
			body = StripMarkup(body)
		}

		w.Header().Set("Content-Type", contentType)
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
		return nil
	}
}

// Class groups HTTP statuses.
type Class string

const (
	ClassClient  Class = "Client Error"
	ClassServer  Class = "Server Error"
	ClassUnknown Class = "Unknown Error"
)

func Classify(status int) Class {
	switch {
	case status >= 400 && status < 500:
		return ClassClient
	case status >= 500 && status < 600:
		return ClassServer
	default:
		return ClassUnknown
	}
}

// Message composes the marked up error text for status and err.
func Message(status int, err error) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "<error>%s</error> <status>%d %s</status>\n", Classify(status), status, http.StatusText(status))
	fmt.Fprintf(&sb, "<message>%s</message>\n", escape.Replace(err.Error()))
	if id, ok := CorrelationID(err); ok {
		fmt.Fprintf(&sb, "<link>see %s</link>\n", PointerPath(id))
	} else if stack := stackOf(err); stack != "" {
		fmt.Fprintf(&sb, "<stack>%s</stack>\n", escape.Replace(stack))
	}
	return sb.String()
}

// PointerPath is the path a client can fetch the record from.
func PointerPath(id string) string {
	return "/server/errors/" + id
}

var (
	markup   = regexp.MustCompile(`</?(error|status|message|link|stack)>`)
	escape   = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	unescape = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&amp;", "&")
)

// StripMarkup removes the semantic tags used by Message and restores the
// escaped text.
func StripMarkup(s string) string {
	return unescape.Replace(markup.ReplaceAllString(s, ""))
}

// Flavor is the kind of client derived from the Accept header.
type Flavor int

const (
	FlavorPlain Flavor = iota
	FlavorTerminal
	FlavorBrowser
)

// Negotiate picks the client flavor from the most preferred media type in accept.
func Negotiate(accept string) Flavor {
	best, bestQ := "", -1.0
	for _, part := range strings.Split(accept, ",") {
		mediaType, params, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		q := 1.0
		if v, ok := params["q"]; ok {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				q = parsed
			}
		}
		if q > bestQ {
			best, bestQ = mediaType, q
		}
	}
	switch best {
	case "text/html", "application/xhtml+xml":
		return FlavorBrowser
	case TerminalMediaType:
		return FlavorTerminal
	default:
		return FlavorPlain
	}
}

func stackOf(err error) string {
	var st interface{ StackTrace() string }
	if errors.As(err, &st) {
		return st.StackTrace()
	}
	return ""
}

// Handler serves records captured in log by correlation ID.
func Handler(log *Log) router.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		id := chi.URLParam(r, "id")
		if !ValidID(id) {
			return errdefs.NewStatusError(http.StatusBadRequest, fmt.Errorf("invalid error id %q", id))
		}
		rec, ok := log.Get(id)
		if !ok {
			return errdefs.NewStatusError(http.StatusNotFound, fmt.Errorf("error %q not found", id))
		}
		return router.WriteJSON(w, http.StatusOK, rec)
	}
}
