package model

import "time"

// TimeLayout is the layout of UsageRecord.Time (YYYY-MM-DDTHH:MM:SS, no zone)
const TimeLayout = "2006-01-02T15:04:05"

// UsageRecord represents a single package download logged by the server.
// Field order is the JSON key order written to the log.
type UsageRecord struct {
	Timestamp   int64  `json:"timestamp"`
	Time        string `json:"time"`
	IP          string `json:"ip"`
	PackageName string `json:"package_name"`
}

// NewUsageRecord builds a record for one request. Timestamp and Time are
// both derived from now so they always describe the same instant.
func NewUsageRecord(now time.Time, loc *time.Location, ip, packageName string) UsageRecord {
	if loc == nil {
		loc = time.UTC
	}
	return UsageRecord{
		Timestamp:   now.Unix(),
		Time:        now.In(loc).Format(TimeLayout),
		IP:          ip,
		PackageName: packageName,
	}
}

// Instant returns the moment the record was taken
func (r UsageRecord) Instant() time.Time {
	return time.Unix(r.Timestamp, 0)
}

// Consistent reports whether Time is the rendering of Timestamp in loc
func (r UsageRecord) Consistent(loc *time.Location) bool {
	if loc == nil {
		loc = time.UTC
	}
	return r.Instant().In(loc).Format(TimeLayout) == r.Time
}
