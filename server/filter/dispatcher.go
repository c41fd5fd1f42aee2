// Package filter implements the smtpd filter protocol: it registers for the
// transaction events it needs, rebuilds each message from its data lines and
// answers every commit with proceed or reject.
package filter

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/emersion/go-smtp"
	"github.com/migadu/filter-contentstrings/consts"
	"github.com/migadu/filter-contentstrings/helpers"
	"github.com/migadu/filter-contentstrings/logger"
	"github.com/migadu/filter-contentstrings/pkg/metrics"
	"github.com/migadu/filter-contentstrings/server/scanner"
)

// Dispatcher reads protocol lines and drives the session store and scanner.
// It processes one line completely, including flushing its responses, before
// reading the next.
type Dispatcher struct {
	sessions *SessionStore
	scanner  *scanner.Scanner
	reject   string
}

// NewDispatcher returns a Dispatcher that owns sessions. A nil reject uses
// the default 550 reply.
func NewDispatcher(sessions *SessionStore, sc *scanner.Scanner, reject *smtp.SMTPError) *Dispatcher {
	if reject == nil {
		reject = &smtp.SMTPError{
			Code:         consts.DefaultRejectCode,
			EnhancedCode: smtp.NoEnhancedCode,
			Message:      consts.DefaultRejectMessage,
		}
	}
	return &Dispatcher{
		sessions: sessions,
		scanner:  sc,
		reject:   "reject|" + formatReply(reject),
	}
}

// Serve runs until r reaches end of stream, which is a clean shutdown.
// Any read or write error is returned and must be treated as fatal.
func (d *Dispatcher) Serve(r io.Reader, w io.Writer) error {
	in := bufio.NewReader(r)
	out := bufio.NewWriter(w)

	for {
		line, readErr := in.ReadString('\n')
		if line != "" {
			if err := d.handleLine(out, trimEOL(line)); err != nil {
				return fmt.Errorf("write response: %w", err)
			}
			if err := out.Flush(); err != nil {
				return fmt.Errorf("write response: %w", err)
			}
		}

		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("read protocol line: %w", readErr)
		}
	}
}

func (d *Dispatcher) handleLine(out *bufio.Writer, line string) error {
	fields := splitFields(line)

	switch fields[0] {
	case verbConfig:
		if len(fields) > 1 && fields[1] == "ready" {
			metrics.ProtocolEventsTotal.WithLabelValues(verbConfig, "ready").Inc()
			logger.Debug("Registering filter hooks")
			return writeRegistrations(out)
		}
		// Other config lines describe smtpd itself; nothing here depends on them.
		return nil

	case verbReport:
		ev, ok := parseReport(fields)
		if !ok {
			break
		}
		switch ev.phase {
		case phaseTxBegin:
			metrics.ProtocolEventsTotal.WithLabelValues(verbReport, ev.phase).Inc()
			d.beginTransaction(ev.session)
			return nil
		case phaseLinkDisconnect:
			metrics.ProtocolEventsTotal.WithLabelValues(verbReport, ev.phase).Inc()
			d.sessions.Remove(ev.session)
			return nil
		}

	case verbFilter:
		ev, ok := parseFilter(fields)
		if !ok {
			break
		}
		switch ev.phase {
		case phaseDataLine:
			metrics.ProtocolEventsTotal.WithLabelValues(verbFilter, ev.phase).Inc()
			return d.dataLine(out, ev)
		case phaseCommit:
			metrics.ProtocolEventsTotal.WithLabelValues(verbFilter, ev.phase).Inc()
			return d.commit(out, ev)
		}
	}

	metrics.ProtocolIgnoredTotal.Inc()
	return nil
}

func (d *Dispatcher) beginTransaction(session string) {
	if err := d.sessions.Reset(session); err != nil {
		logger.Warn("Not buffering transaction", "session", session, "open_sessions", d.sessions.Len(), "error", err)
	}
}

// dataLine echoes the line back to smtpd before it touches the buffer, so the
// message keeps streaming whatever the session state is.
func (d *Dispatcher) dataLine(out *bufio.Writer, ev filterEvent) error {
	payload := strings.Join(ev.rest, fieldSeparator)
	if err := writeDataLine(out, ev.session, ev.token, payload); err != nil {
		return err
	}

	if isEndOfData(ev.rest) {
		return nil
	}

	if err := d.sessions.Append(ev.session, []byte(payload+"\n")); errors.Is(err, consts.ErrMessageTooLarge) {
		logger.Warn("Message exceeds size limit, dropping remaining lines",
			"session", ev.session, "token", ev.token,
			"limit", humanize.Bytes(uint64(d.sessions.limits.MaxMessageSize)))
	}
	return nil
}

func (d *Dispatcher) commit(out *bufio.Writer, ev filterEvent) error {
	start := time.Now()
	log := logger.With("session", ev.session, "token", ev.token)

	allow := d.evaluate(log, ev.session)
	metrics.CommitDuration.Observe(time.Since(start).Seconds())

	if allow {
		metrics.VerdictsTotal.WithLabelValues("proceed").Inc()
		log.Info("Allowing")
		return writeResult(out, ev.session, ev.token, "proceed")
	}

	metrics.VerdictsTotal.WithLabelValues("reject").Inc()
	log.Info("Denying")
	return writeResult(out, ev.session, ev.token, d.reject)
}

// evaluate decides the verdict for the buffered message of session. A missing
// buffer and an unparsable message are both allowed.
func (d *Dispatcher) evaluate(log *slog.Logger, session string) bool {
	raw, ok := d.sessions.Get(session)
	if !ok {
		log.Debug("No transaction buffer, nothing to scan")
		return true
	}

	metrics.MessageSizeBytes.Observe(float64(len(raw)))
	digest := helpers.HashContent(raw)

	subject, err := helpers.ExtractSubject(raw)
	if err != nil {
		metrics.MalformedMessagesTotal.Inc()
		log.Warn("Malformed eMail",
			"error", err,
			"size", humanize.Bytes(uint64(len(raw))),
			"digest", digest,
			"content", helpers.SanitizeUTF8(string(raw)))
		return true
	}

	log.Debug("Scanning message", "size", humanize.Bytes(uint64(len(raw))), "digest", digest,
		"truncated", d.sessions.Truncated(session))
	return d.scanner.Scan(log, "subject", subject).Allow
}
