// Package log provides the slog loggers used by the library.
package log

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/golang-cz/devslog"
	"github.com/phsym/console-slog"
	slogformatter "github.com/samber/slog-formatter"
)

var newHandler = slogformatter.NewFormatterHandler(
	slogformatter.ErrorFormatter("error"),
	slogformatter.FormatByType(func(req *sip.Request) slog.Value {
		if req == nil {
			return slog.Value{}
		}
		attrs := []slog.Attr{
			slog.String("method", string(req.Method)),
			slog.String("uri", req.Recipient.String()),
		}
		if cid := req.CallID(); cid != nil {
			attrs = append(attrs, slog.String("call_id", cid.Value()))
		}
		if cseq := req.CSeq(); cseq != nil {
			attrs = append(attrs, slog.Uint64("cseq", uint64(cseq.SeqNo)))
		}
		return slog.GroupValue(attrs...)
	}),
	slogformatter.FormatByType(func(res *sip.Response) slog.Value {
		if res == nil {
			return slog.Value{}
		}
		attrs := []slog.Attr{
			slog.Int("status", res.StatusCode),
			slog.String("reason", res.Reason),
		}
		if cseq := res.CSeq(); cseq != nil {
			attrs = append(attrs, slog.String("cseq", fmt.Sprintf("%d %s", cseq.SeqNo, cseq.MethodName)))
		}
		return slog.GroupValue(attrs...)
	}),
)

// NewConsole returns a logger that writes human-readable records to stdout.
func NewConsole(level slog.Leveler) *slog.Logger {
	return slog.New(newHandler(
		console.NewHandler(os.Stdout, &console.HandlerOptions{
			AddSource:  true,
			Level:      level,
			TimeFormat: time.RFC3339Nano,
		}),
	))
}

// NewDev returns a developer logger with pretty-printed attributes.
func NewDev(level slog.Leveler) *slog.Logger {
	return slog.New(newHandler(
		devslog.NewHandler(os.Stdout, &devslog.Options{
			HandlerOptions: &slog.HandlerOptions{
				AddSource: true,
				Level:     level,
			},
			SortKeys:   true,
			TimeFormat: time.RFC3339Nano,
		}),
	))
}

var def atomic.Pointer[slog.Logger]

func init() {
	def.Store(NewConsole(slog.LevelInfo))
}

// Default returns the package default logger.
// It is used by library objects that were created without an explicit logger.
func Default() *slog.Logger { return def.Load() }

// SetDefault replaces the package default logger.
// Nil resets it to [Noop].
func SetDefault(l *slog.Logger) {
	if l == nil {
		l = Noop()
	}
	def.Store(l)
}

type noopHandler struct{}

func (noopHandler) Enabled(context.Context, slog.Level) bool { return false }

func (noopHandler) Handle(context.Context, slog.Record) error { return nil }

func (h noopHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h noopHandler) WithGroup(string) slog.Handler { return h }

var noop = slog.New(noopHandler{})

// Noop returns a logger that discards everything.
func Noop() *slog.Logger { return noop }

type calcValue struct{ fn func() any }

func (v calcValue) LogValue() slog.Value {
	switch cv := v.fn().(type) {
	case slog.Value:
		return cv
	default:
		return slog.AnyValue(cv)
	}
}

// CalcValue returns a value logger that computes a value using fn only when the record is emitted.
func CalcValue(fn func() any) slog.LogValuer { return calcValue{fn} }
