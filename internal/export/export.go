// Package export serializes the record cache for backup and transfer, and
// parses JSON exports back into records.
//
// JSON is the only format that can be imported. CSV, YAML and TOML are
// machine-readable dumps for other tools; the text report is the printable
// summary a user shares or archives.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/lifesync/lifesync/internal/record"
)

// Format is an export container.
type Format string

const (
	FormatJSON   Format = "json"
	FormatCSV    Format = "csv"
	FormatYAML   Format = "yaml"
	FormatTOML   Format = "toml"
	FormatReport Format = "report"
)

// Formats lists every supported format.
var Formats = []Format{FormatJSON, FormatCSV, FormatYAML, FormatTOML, FormatReport}

// ErrUnknownFormat is returned for formats not in Formats.
var ErrUnknownFormat = errors.New("unknown export format")

// ParseFormat converts s into a Format. "pdf" and "txt" are accepted as
// aliases of the printable report.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatCSV, FormatYAML, FormatTOML, FormatReport:
		return f, nil
	case "yml":
		return FormatYAML, nil
	case "pdf", "txt", "text":
		return FormatReport, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// Extension returns the conventional file extension for f.
func (f Format) Extension() string {
	if f == FormatReport {
		return "txt"
	}
	return string(f)
}

// Document is the JSON export envelope.
type Document struct {
	ExportedAt time.Time         `json:"exportedAt"`
	UserID     string            `json:"userId,omitempty"`
	DeviceID   string            `json:"deviceId,omitempty"`
	Platform   record.Platform   `json:"platform,omitempty"`
	Count      int               `json:"count"`
	Items      []record.SyncItem `json:"items"`
}

// NewDocument wraps items in an envelope, ordered by id.
func NewDocument(items []record.SyncItem, userID, deviceID string, platform record.Platform, at time.Time) *Document {
	sorted := make([]record.SyncItem, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	return &Document{
		ExportedAt: at.UTC(),
		UserID:     userID,
		DeviceID:   deviceID,
		Platform:   platform,
		Count:      len(sorted),
		Items:      sorted,
	}
}

// Write encodes doc to w in the given format.
func Write(w io.Writer, format Format, doc *Document) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case FormatCSV:
		return writeCSV(w, doc)
	case FormatYAML:
		generic, err := toGeneric(doc)
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	case FormatTOML:
		generic, err := toGeneric(doc)
		if err != nil {
			return err
		}
		if err := toml.NewEncoder(w).Encode(dropNulls(generic)); err != nil {
			return fmt.Errorf("failed to encode toml: %w", err)
		}
		return nil
	case FormatReport:
		return writeReport(w, doc)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// CSVHeader is the column order of CSV exports.
var CSVHeader = []string{"id", "type", "version", "timestamp", "checksum", "platform", "deviceId", "payload"}

func writeCSV(w io.Writer, doc *Document) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, it := range doc.Items {
		payload, err := json.Marshal(it.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload of %s: %w", it.ID, err)
		}
		row := []string{
			it.ID,
			string(it.Type),
			strconv.FormatInt(it.Version, 10),
			it.Timestamp.UTC().Format(time.RFC3339Nano),
			it.Checksum,
			string(it.Platform),
			it.DeviceID,
			string(payload),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write csv row for %s: %w", it.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeReport(w io.Writer, doc *Document) error {
	byType := make(map[record.ItemType][]record.SyncItem)
	for _, it := range doc.Items {
		byType[it.Type] = append(byType[it.Type], it)
	}

	fmt.Fprintf(w, "Personal data export\n")
	fmt.Fprintf(w, "Exported: %s\n", doc.ExportedAt.Format("2006-01-02 15:04:05 MST"))
	if doc.DeviceID != "" {
		fmt.Fprintf(w, "Device:   %s (%s)\n", doc.DeviceID, doc.Platform)
	}
	fmt.Fprintf(w, "Records:  %d\n", doc.Count)

	for _, typ := range record.ItemTypes {
		items := byType[typ]
		if len(items) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n== %s (%d) ==\n", typ, len(items))
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tVERSION\tUPDATED\tCONTENT")
		for _, it := range items {
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n",
				it.ID, it.Version, it.Timestamp.UTC().Format("2006-01-02 15:04"), summarize(it))
		}
		if err := tw.Flush(); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
	}
	return nil
}

// summarize renders a payload as sorted key=value pairs, truncated.
func summarize(it record.SyncItem) string {
	if it.IsDeleted() {
		return "(deleted)"
	}
	keys := make([]string, 0, len(it.Payload))
	for k := range it.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "%s=%v", k, it.Payload[k])
	}
	s := b.String()
	if len(s) > 60 {
		s = s[:57] + "..."
	}
	return s
}

// toGeneric re-shapes doc through JSON so YAML and TOML output uses the
// same field names as the JSON export.
func toGeneric(doc *Document) (map[string]any, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal export: %w", err)
	}
	var out map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to reshape export: %w", err)
	}
	return normalizeNumbers(out).(map[string]any), nil
}

// normalizeNumbers turns json.Number into int64 or float64.
func normalizeNumbers(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, e := range val {
			val[k] = normalizeNumbers(e)
		}
		return val
	case []any:
		for i, e := range val {
			val[i] = normalizeNumbers(e)
		}
		return val
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		f, _ := val.Float64()
		return f
	default:
		return val
	}
}

// dropNulls removes nil values, which TOML cannot represent.
func dropNulls(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, e := range val {
			if e == nil {
				delete(val, k)
				continue
			}
			val[k] = dropNulls(e)
		}
		return val
	case []any:
		out := val[:0]
		for _, e := range val {
			if e != nil {
				out = append(out, dropNulls(e))
			}
		}
		return out
	default:
		return val
	}
}

// Read parses a JSON export. Both the Document envelope and a bare array
// of records are accepted. Checksums are recomputed from payloads.
func Read(r io.Reader) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read export: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("export is empty")
	}

	var doc Document
	if data[0] == '[' {
		if err := json.Unmarshal(data, &doc.Items); err != nil {
			return nil, fmt.Errorf("invalid export: %w", err)
		}
	} else if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid export: %w", err)
	}

	for i, it := range doc.Items {
		if err := it.Validate(); err != nil {
			return nil, fmt.Errorf("invalid record at index %d: %w", i, err)
		}
		doc.Items[i] = it.Normalize()
	}
	doc.Count = len(doc.Items)
	return &doc, nil
}
