package importjob

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"golang.org/x/text/language"
)

// Per-kind defaults applied when an optional column is absent or empty.
const (
	DefaultShowReblogs       = true
	DefaultNotify            = false
	DefaultHideNotifications = true
)

var (
	ErrMissingRequiredField = errors.New("missing required field")
	ErrMalformedField       = errors.New("malformed field")
)

// RowCodec converts between positional CSV records and normalized row
// payloads for one import kind. Records handed to Decode are in canonical
// column order (see Header / column counts); Encode is the exact inverse
// and is used for failure reports.
type RowCodec interface {
	Kind() Kind
	// Header returns the exported column labels, or nil for kinds whose
	// export carries no header row.
	Header() []string
	// Columns is the canonical column count Decode expects.
	Columns() int
	Decode(record []string) (RowPayload, error)
	Encode(p RowPayload) []string
}

// CodecFor selects the codec variant for a kind. Kinds are a closed set;
// callers validate the kind before reaching this switch.
func CodecFor(kind Kind) RowCodec {
	switch kind {
	case KindFollowing:
		return followingCodec{}
	case KindBlocking:
		return blockingCodec{}
	case KindMuting:
		return mutingCodec{}
	case KindDomainBlocking:
		return domainBlockingCodec{}
	case KindBookmarks:
		return bookmarksCodec{}
	case KindLists:
		return listsCodec{}
	}
	return nil
}

type followingCodec struct{}

func (followingCodec) Kind() Kind { return KindFollowing }

func (followingCodec) Header() []string {
	return []string{"Account address", "Show boosts", "Notify on new posts", "Languages"}
}

func (followingCodec) Columns() int { return 4 }

func (followingCodec) Decode(record []string) (RowPayload, error) {
	acct, err := parseAcct(field(record, 0))
	if err != nil {
		return RowPayload{}, err
	}
	showReblogs, err := parseBool(field(record, 1), DefaultShowReblogs)
	if err != nil {
		return RowPayload{}, err
	}
	notify, err := parseBool(field(record, 2), DefaultNotify)
	if err != nil {
		return RowPayload{}, err
	}
	return RowPayload{
		Acct:        acct,
		ShowReblogs: showReblogs,
		Notify:      notify,
		Languages:   parseLanguages(field(record, 3)),
	}, nil
}

func (followingCodec) Encode(p RowPayload) []string {
	return []string{
		p.Acct,
		strconv.FormatBool(p.ShowReblogs),
		strconv.FormatBool(p.Notify),
		strings.Join(p.Languages, ", "),
	}
}

type blockingCodec struct{}

func (blockingCodec) Kind() Kind       { return KindBlocking }
func (blockingCodec) Header() []string { return nil }
func (blockingCodec) Columns() int     { return 1 }

func (blockingCodec) Decode(record []string) (RowPayload, error) {
	acct, err := parseAcct(field(record, 0))
	if err != nil {
		return RowPayload{}, err
	}
	return RowPayload{Acct: acct}, nil
}

func (blockingCodec) Encode(p RowPayload) []string {
	return []string{p.Acct}
}

type mutingCodec struct{}

func (mutingCodec) Kind() Kind { return KindMuting }

func (mutingCodec) Header() []string {
	return []string{"Account address", "Hide notifications"}
}

func (mutingCodec) Columns() int { return 2 }

func (mutingCodec) Decode(record []string) (RowPayload, error) {
	acct, err := parseAcct(field(record, 0))
	if err != nil {
		return RowPayload{}, err
	}
	hide, err := parseBool(field(record, 1), DefaultHideNotifications)
	if err != nil {
		return RowPayload{}, err
	}
	return RowPayload{Acct: acct, HideNotifications: hide}, nil
}

func (mutingCodec) Encode(p RowPayload) []string {
	return []string{p.Acct, strconv.FormatBool(p.HideNotifications)}
}

type domainBlockingCodec struct{}

func (domainBlockingCodec) Kind() Kind       { return KindDomainBlocking }
func (domainBlockingCodec) Header() []string { return nil }
func (domainBlockingCodec) Columns() int     { return 1 }

func (domainBlockingCodec) Decode(record []string) (RowPayload, error) {
	domain := strings.ToLower(strings.TrimSpace(field(record, 0)))
	if domain == "" {
		return RowPayload{}, errors.Wrap(ErrMissingRequiredField, "domain")
	}
	return RowPayload{Domain: domain}, nil
}

func (domainBlockingCodec) Encode(p RowPayload) []string {
	return []string{p.Domain}
}

type bookmarksCodec struct{}

func (bookmarksCodec) Kind() Kind       { return KindBookmarks }
func (bookmarksCodec) Header() []string { return nil }
func (bookmarksCodec) Columns() int     { return 1 }

func (bookmarksCodec) Decode(record []string) (RowPayload, error) {
	uri := strings.TrimSpace(field(record, 0))
	if uri == "" {
		return RowPayload{}, errors.Wrap(ErrMissingRequiredField, "uri")
	}
	return RowPayload{URI: uri}, nil
}

func (bookmarksCodec) Encode(p RowPayload) []string {
	return []string{p.URI}
}

type listsCodec struct{}

func (listsCodec) Kind() Kind       { return KindLists }
func (listsCodec) Header() []string { return nil }
func (listsCodec) Columns() int     { return 2 }

func (listsCodec) Decode(record []string) (RowPayload, error) {
	name := strings.TrimSpace(field(record, 0))
	if name == "" {
		return RowPayload{}, errors.Wrap(ErrMissingRequiredField, "list name")
	}
	acct, err := parseAcct(field(record, 1))
	if err != nil {
		return RowPayload{}, err
	}
	return RowPayload{ListName: name, Acct: acct}, nil
}

func (listsCodec) Encode(p RowPayload) []string {
	return []string{p.ListName, p.Acct}
}

// WriteFailureReport encodes payloads as CSV in original row order,
// prefixed with the kind's header row when it has one.
func WriteFailureReport(w io.Writer, kind Kind, payloads []RowPayload) error {
	codec := CodecFor(kind)
	if codec == nil {
		return errors.Errorf("no codec for kind %q", kind)
	}

	cw := csv.NewWriter(w)
	if header := codec.Header(); header != nil {
		if err := cw.Write(header); err != nil {
			return errors.Wrap(err, "failed to write header")
		}
	}
	for _, p := range payloads {
		if err := cw.Write(codec.Encode(p)); err != nil {
			return errors.Wrap(err, "failed to write record")
		}
	}
	cw.Flush()
	return cw.Error()
}

func field(record []string, i int) string {
	if i >= len(record) {
		return ""
	}
	return record[i]
}

func parseAcct(s string) (string, error) {
	acct := strings.TrimPrefix(strings.TrimSpace(s), "@")
	if acct == "" {
		return "", errors.Wrap(ErrMissingRequiredField, "account address")
	}
	if strings.ContainsAny(acct, " \t") || strings.Count(acct, "@") > 1 {
		return "", errors.Wrap(ErrMalformedField, "account address")
	}
	return acct, nil
}

func parseBool(s string, def bool) (bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(strings.ToLower(s))
	if err != nil {
		return false, errors.Wrap(ErrMalformedField, "boolean")
	}
	return v, nil
}

func parseLanguages(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		code := strings.TrimSpace(part)
		if code == "" {
			continue
		}
		if _, err := language.Parse(code); err != nil {
			continue
		}
		out = append(out, code)
	}
	return out
}
