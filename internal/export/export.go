// Package export renders a snapshot as JSON, CSV or XLSX for offline
// use. The collect command is the main consumer.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"trendwatch/internal/core"
)

// Format identifies an output encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat validates a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatJSON:
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("unknown format %q (json, csv, xlsx)", s)
}

// Write renders the snapshot in the given format.
func Write(w io.Writer, snap *core.Snapshot, format Format, pretty bool) error {
	switch format {
	case FormatJSON:
		return writeJSON(w, snap, pretty)
	case FormatCSV:
		return writeCSV(w, snap)
	case FormatXLSX:
		return writeXLSX(w, snap)
	}
	return fmt.Errorf("unknown format %q", format)
}

func writeJSON(w io.Writer, snap *core.Snapshot, pretty bool) error {
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(snap)
}

var csvHeader = []string{"rank", "keyword", "score", "sources", "urls", "timestamp"}

func writeCSV(w io.Writer, snap *core.Snapshot) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, f := range snap.HotKeywords {
		record := []string{
			strconv.Itoa(f.Rank),
			f.Keyword,
			strconv.Itoa(f.Score),
			joinSources(f.Sources),
			strings.Join(f.URLs, " "),
			f.Timestamp.Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeXLSX(w io.Writer, snap *core.Snapshot) error {
	f := excelize.NewFile()
	defer f.Close()

	const keywordSheet = "Hot Keywords"
	if err := f.SetSheetName("Sheet1", keywordSheet); err != nil {
		return err
	}

	headers := []any{"Rank", "Keyword", "Score", "Sources", "URLs", "Timestamp"}
	if err := f.SetSheetRow(keywordSheet, "A1", &headers); err != nil {
		return err
	}
	for i, kw := range snap.HotKeywords {
		row := []any{
			kw.Rank,
			kw.Keyword,
			kw.Score,
			joinSources(kw.Sources),
			strings.Join(kw.URLs, " "),
			kw.Timestamp.Format(time.RFC3339),
		}
		cell := fmt.Sprintf("A%d", i+2)
		if err := f.SetSheetRow(keywordSheet, cell, &row); err != nil {
			return err
		}
	}

	if len(snap.Topics) > 0 {
		const topicSheet = "Topics"
		if _, err := f.NewSheet(topicSheet); err != nil {
			return err
		}
		topicHeaders := []any{"ID", "Topic", "Keywords", "Hooks"}
		if err := f.SetSheetRow(topicSheet, "A1", &topicHeaders); err != nil {
			return err
		}
		for i, topic := range snap.Topics {
			row := []any{
				topic.ID,
				topic.Topic,
				strings.Join(topic.Keywords, ", "),
				strings.Join(topic.Hooks, " / "),
			}
			cell := fmt.Sprintf("A%d", i+2)
			if err := f.SetSheetRow(topicSheet, cell, &row); err != nil {
				return err
			}
		}
	}

	return f.Write(w)
}

func joinSources(sources []core.Source) string {
	names := make([]string, 0, len(sources))
	for _, s := range sources {
		names = append(names, string(s))
	}
	return strings.Join(names, ",")
}
