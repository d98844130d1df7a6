package usagelog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/AstarVienna/irdb/internal/model"
)

// ErrMalformed is returned for lines that are not a complete usage record
var ErrMalformed = errors.New("malformed usage record")

var recordKeys = []string{"timestamp", "time", "ip", "package_name"}

// Report summarises the integrity of a log file
type Report struct {
	Lines        int   // Non-empty lines read
	Valid        int   // Lines holding a complete, consistent record
	Malformed    int   // Lines that do not decode to a record
	Inconsistent int   // Records whose time does not match their timestamp
	BadLines     []int // 1-based line numbers of malformed or inconsistent lines
}

// OK reports whether every line in the file was valid
func (r *Report) OK() bool {
	return r.Malformed == 0 && r.Inconsistent == 0
}

// ParseLine decodes one log line. All four keys must be present and no
// others are allowed.
func ParseLine(line []byte) (model.UsageRecord, error) {
	var rec model.UsageRecord

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		return rec, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(fields) != len(recordKeys) {
		return rec, fmt.Errorf("%w: expected %d keys, got %d", ErrMalformed, len(recordKeys), len(fields))
	}
	for _, key := range recordKeys {
		if _, ok := fields[key]; !ok {
			return rec, fmt.Errorf("%w: missing %q", ErrMalformed, key)
		}
	}

	dec := json.NewDecoder(bytes.NewReader(line))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&rec); err != nil {
		return rec, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return rec, nil
}

// Scan calls fn for every non-empty line of r with its 1-based line number
// and the decoded record or decode error. Malformed lines do not stop the
// scan.
func Scan(r io.Reader, fn func(lineNo int, rec model.UsageRecord, err error)) error {
	scanner := bufio.NewScanner(r)

	// package_name has no length limit, so allow long lines
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 16*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		rec, err := ParseLine(line)
		fn(lineNo, rec, err)
	}
	return scanner.Err()
}

// Verify reads the log file at path and counts valid and broken lines.
// Time fields are checked against loc.
func Verify(path string, loc *time.Location) (*Report, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	report := &Report{}
	err = Scan(file, func(lineNo int, rec model.UsageRecord, err error) {
		report.Lines++
		switch {
		case err != nil:
			report.Malformed++
			report.BadLines = append(report.BadLines, lineNo)
		case !rec.Consistent(loc):
			report.Inconsistent++
			report.BadLines = append(report.BadLines, lineNo)
		default:
			report.Valid++
		}
	})
	return report, err
}
