package ioc

// TimeLayout is the wall-clock format used for every timestamp string the
// exporter emits (snapshot JSON, cache rows, run summaries). It matches the
// format the MISP UI and the downstream consumers already expect.
const TimeLayout = "2006-01-02 15:04:05"

// Record is the canonical IOC record produced by one extraction run.
// It is constructed once from a source row, never mutated, and handed to
// both sinks. Field names are part of the output contract: the snapshot
// file and the cache schema use them verbatim.
type Record struct {
	EventID            int64  `json:"event_id"`
	EventUUID          string `json:"event_uuid"`
	EventInfo          string `json:"event_info"`
	EventDate          string `json:"event_date"`
	EventTimestamp     string `json:"event_timestamp"`
	AttributeID        int64  `json:"attribute_id"`
	AttributeType      string `json:"attribute_type"`
	AttributeCategory  string `json:"attribute_category"`
	AttributeValue     string `json:"attribute_value"`
	AttributeTimestamp string `json:"attribute_timestamp"`
	AttributeComment   string `json:"attribute_comment"`
	AttributeToIDs     bool   `json:"attribute_to_ids"`
	ImportTime         string `json:"import_time"`
}

// DefaultTypes is the stock attribute-type allowlist, used when the config
// does not override extraction.ioc_types.
var DefaultTypes = []string{
	"ip-src", "ip-dst", "domain", "hostname", "url",
	"md5", "sha1", "sha256", "filename", "email-src",
	"email-dst", "mutex", "regkey", "snort", "yara",
}
