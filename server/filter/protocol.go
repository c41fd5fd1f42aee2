package filter

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/emersion/go-smtp"
	"github.com/migadu/filter-contentstrings/consts"
)

const (
	verbConfig = "config"
	verbReport = "report"
	verbFilter = "filter"

	phaseTxBegin        = "tx-begin"
	phaseLinkDisconnect = "link-disconnect"
	phaseDataLine       = "data-line"
	phaseCommit         = "commit"

	fieldSeparator = "|"
)

// registrations is sent, in this order, in answer to config|ready.
var registrations = []string{
	"register|report|smtp-in|tx-begin",
	"register|filter|smtp-in|data-line",
	"register|filter|smtp-in|commit",
	"register|report|smtp-in|link-disconnect",
	"register|ready",
}

// report|<version>|<timestamp>|<subsystem>|<phase>|<session>[|...]
type reportEvent struct {
	phase   string
	session string
}

func parseReport(fields []string) (reportEvent, bool) {
	if len(fields) < 6 {
		return reportEvent{}, false
	}
	return reportEvent{phase: fields[4], session: fields[5]}, true
}

// filter|<version>|<timestamp>|<subsystem>|<phase>|<session>|<token>[|rest...]
type filterEvent struct {
	phase   string
	session string
	token   string
	rest    []string
}

func parseFilter(fields []string) (filterEvent, bool) {
	if len(fields) < 7 {
		return filterEvent{}, false
	}
	return filterEvent{
		phase:   fields[4],
		session: fields[5],
		token:   fields[6],
		rest:    fields[7:],
	}, true
}

// isEndOfData reports whether a data-line payload is the lone terminator.
func isEndOfData(rest []string) bool {
	return len(rest) == 1 && rest[0] == consts.EndOfDataLine
}

// trimEOL strips every trailing carriage return and newline.
func trimEOL(line string) string {
	return strings.TrimRight(line, "\r\n")
}

func splitFields(line string) []string {
	return strings.Split(line, fieldSeparator)
}

func writeRegistrations(w *bufio.Writer) error {
	for _, line := range registrations {
		if _, err := w.WriteString(line + "\n"); err != nil {
			return err
		}
	}
	return nil
}

func writeDataLine(w *bufio.Writer, session, token, payload string) error {
	_, err := fmt.Fprintf(w, "filter-dataline|%s|%s|%s\n", session, token, payload)
	return err
}

func writeResult(w *bufio.Writer, session, token, result string) error {
	_, err := fmt.Fprintf(w, "filter-result|%s|%s|%s\n", session, token, result)
	return err
}

// formatReply renders an SMTP reply as smtpd expects it after "reject|".
func formatReply(e *smtp.SMTPError) string {
	if e.EnhancedCode == smtp.NoEnhancedCode || e.EnhancedCode == (smtp.EnhancedCode{}) {
		return fmt.Sprintf("%d %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%d %d.%d.%d %s", e.Code, e.EnhancedCode[0], e.EnhancedCode[1], e.EnhancedCode[2], e.Message)
}
