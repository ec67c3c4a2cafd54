package ua

import (
	"log/slog"
	"net"
	"strconv"
	"strings"

	"braces.dev/errtrace"
	"github.com/emiago/sipgo/sip"
)

// TransactionKey identifies a transaction and is used to match inbound messages to it.
//
// Server keys are built from the top Via branch and sent-by, with CANCEL requests
// getting their own key. Client keys are built from the branch and the CSeq method.
type TransactionKey struct {
	// Branch is the branch parameter of the top Via header.
	Branch string `json:"branch"`
	// SentBy is the sent-by of the top Via header. Set on server keys only.
	SentBy string `json:"sent_by,omitempty"`
	// Method is the request method.
	Method string `json:"method"`
	// Server is true for server transaction keys.
	Server bool `json:"server"`
}

// FillFromRequest fills the key from the request top Via and method.
func (k *TransactionKey) FillFromRequest(req *sip.Request, server bool) error {
	if req == nil {
		return errtrace.Wrap(NewInvalidArgumentError("nil request"))
	}
	via := req.Via()
	if via == nil {
		return errtrace.Wrap(NewInvalidArgumentError("missing Via header"))
	}
	branch, _ := via.Params.Get("branch")
	if branch == "" {
		return errtrace.Wrap(NewInvalidArgumentError("missing Via branch parameter"))
	}

	k.Branch = branch
	k.Method = strings.ToUpper(string(req.Method))
	k.Server = server
	k.SentBy = ""
	if server {
		k.SentBy = viaSentBy(via)
	}
	return nil
}

// FillFromResponse fills a client key from the response top Via and CSeq.
func (k *TransactionKey) FillFromResponse(res *sip.Response) error {
	if res == nil {
		return errtrace.Wrap(NewInvalidArgumentError("nil response"))
	}
	via := res.Via()
	if via == nil {
		return errtrace.Wrap(NewInvalidArgumentError("missing Via header"))
	}
	branch, _ := via.Params.Get("branch")
	if branch == "" {
		return errtrace.Wrap(NewInvalidArgumentError("missing Via branch parameter"))
	}
	cseq := res.CSeq()
	if cseq == nil {
		return errtrace.Wrap(NewInvalidArgumentError("missing CSeq header"))
	}

	k.Branch = branch
	k.Method = strings.ToUpper(string(cseq.MethodName))
	k.SentBy = ""
	k.Server = false
	return nil
}

func viaSentBy(via *sip.ViaHeader) string {
	host := strings.ToLower(via.Host)
	if via.Port <= 0 {
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(via.Port))
}

// String returns the key in its canonical form.
// Server keys are "branch-sentby" with "-CANCEL" appended for CANCEL requests,
// client keys are "branch-METHOD".
func (k TransactionKey) String() string {
	if k.Server {
		s := k.Branch + "-" + k.SentBy
		if k.Method == string(sip.CANCEL) {
			s += "-" + k.Method
		}
		return s
	}
	return k.Branch + "-" + k.Method
}

// Equal reports whether both keys identify the same transaction.
func (k TransactionKey) Equal(other TransactionKey) bool {
	return k.Server == other.Server && k.String() == other.String()
}

// IsValid reports whether the key has all the fields its kind requires.
func (k TransactionKey) IsValid() bool {
	if k.Branch == "" || k.Method == "" {
		return false
	}
	return !k.Server || k.SentBy != ""
}

// LogValue implements [slog.LogValuer].
func (k TransactionKey) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("branch", k.Branch),
		slog.String("method", k.Method),
		slog.Bool("server", k.Server),
	)
}
