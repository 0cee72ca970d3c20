// Package proxylist reads proxy credential lists in the
// username:password@host:port format.
package proxylist

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

var ErrInvalidFormat = errors.New("invalid proxy format")

// Record is one parsed proxy line. It is never modified after parsing.
type Record struct {
	Host     string
	Port     int
	Username string
	Password string
	Original string
}

// Address returns host:port.
func (r Record) Address() string {
	return r.Host + ":" + strconv.Itoa(r.Port)
}

// Server returns the proxy server URL without credentials.
func (r Record) Server() string {
	return "http://" + r.Address()
}

func (r Record) String() string {
	return r.Original
}

// NewRecord builds a Record whose Original is the canonical proxy line.
func NewRecord(username, password, host string, port int) Record {
	return Record{
		Host:     host,
		Port:     port,
		Username: username,
		Password: password,
		Original: Format(username, password, host, port),
	}
}

// Format renders credentials and address back into a proxy line.
func Format(username, password, host string, port int) string {
	return fmt.Sprintf("%s:%s@%s:%d", username, password, host, port)
}

// ParseError describes a line that could not be turned into a Record.
type ParseError struct {
	Line   string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("error parsing proxy line '%s': %s", e.Line, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseLine parses username:password@host:port. The line is split once on
// the first '@' and each half once on its first ':', so passwords cannot
// contain either separator.
func ParseLine(line string) (Record, error) {
	line = strings.TrimSpace(line)

	credentials, hostPort, ok := strings.Cut(line, "@")
	if !ok {
		return Record{}, &ParseError{Line: line, Reason: "missing '@'", Err: ErrInvalidFormat}
	}
	username, password, ok := strings.Cut(credentials, ":")
	if !ok || username == "" || password == "" {
		return Record{}, &ParseError{Line: line, Reason: "credentials must be username:password", Err: ErrInvalidFormat}
	}
	host, portStr, ok := strings.Cut(hostPort, ":")
	if !ok || host == "" {
		return Record{}, &ParseError{Line: line, Reason: "address must be host:port", Err: ErrInvalidFormat}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Record{}, &ParseError{Line: line, Reason: fmt.Sprintf("invalid port '%s'", portStr), Err: err}
	}
	if port < 1 || port > 65535 {
		return Record{}, &ParseError{Line: line, Reason: fmt.Sprintf("port %d out of range", port), Err: ErrInvalidFormat}
	}

	return Record{
		Host:     host,
		Port:     port,
		Username: username,
		Password: password,
		Original: line,
	}, nil
}

// Read parses every non-blank line of r in order. Malformed lines are
// logged and skipped; only read errors are returned.
func Read(r io.Reader, logger zerolog.Logger) ([]Record, error) {
	records := []Record{}
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		record, err := ParseLine(line)
		if err != nil {
			logger.Warn().Err(err).Int("line", lineNo).Msg("Skipping invalid proxy line")
			continue
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return records, fmt.Errorf("failed to read proxy list: %w", err)
	}
	return records, nil
}

// Load reads the proxy list at path. A missing or unreadable file is
// returned as an error and no records.
func Load(path string, logger zerolog.Logger) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("proxy file '%s': %w", path, err)
	}
	defer f.Close()

	records, err := Read(f, logger)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("file", path).Int("count", len(records)).Msgf("Loaded %d valid proxies", len(records))
	return records, nil
}
