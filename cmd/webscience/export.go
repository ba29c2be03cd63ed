package main

import (
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	_ "modernc.org/sqlite"
)

// exportEntry is one resolution log row in export form.
type exportEntry struct {
	ID            int64   `json:"id"`
	Timestamp     string  `json:"timestamp"`
	SourceURL     string  `json:"source_url"`
	SourceHost    string  `json:"source_host"`
	FinalURL      string  `json:"final_url,omitempty"`
	Outcome       string  `json:"outcome"`
	FailureReason string  `json:"failure_reason,omitempty"`
	RequestMode   string  `json:"request_mode"`
	RedirectCount int     `json:"redirect_count"`
	DurationMs    float64 `json:"duration_ms"`
	Cached        bool    `json:"cached"`
}

// runExport dumps the resolution log from the SQLite database to stdout or a
// file. It opens the database read-only so it is safe against a running
// service.
func runExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	dbPath := fs.String("db", "webscience.db", "Path to the resolution log database")
	format := fs.String("format", "json", "Output format: json or csv")
	limit := fs.Int("limit", 0, "Maximum rows to export (0 = all)")
	host := fs.String("host", "", "Only export resolutions from this source host")
	output := fs.String("o", "", "Output file (default stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *format != "json" && *format != "csv" {
		return fmt.Errorf("unsupported format: %s", *format)
	}
	if _, err := os.Stat(*dbPath); err != nil {
		return fmt.Errorf("database not found at %s", *dbPath)
	}

	db, err := sql.Open("sqlite", "file:"+*dbPath+"?mode=ro")
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	query := `SELECT id, timestamp, source_url, source_host, final_url, outcome,
		failure_reason, request_mode, redirect_count, duration_ms, cached
		FROM resolutions`
	var queryArgs []any
	if *host != "" {
		query += " WHERE source_host = ?"
		queryArgs = append(queryArgs, *host)
	}
	query += " ORDER BY timestamp DESC"
	if *limit > 0 {
		query += " LIMIT ?"
		queryArgs = append(queryArgs, *limit)
	}

	rows, err := db.Query(query, queryArgs...)
	if err != nil {
		return fmt.Errorf("querying resolutions: %w", err)
	}
	defer rows.Close()

	var entries []exportEntry
	for rows.Next() {
		var e exportEntry
		var finalURL, failureReason sql.NullString
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.SourceURL, &e.SourceHost,
			&finalURL, &e.Outcome, &failureReason, &e.RequestMode,
			&e.RedirectCount, &e.DurationMs, &e.Cached); err != nil {
			return fmt.Errorf("scanning row: %w", err)
		}
		e.FinalURL = finalURL.String
		e.FailureReason = failureReason.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("reading rows: %w", err)
	}

	var out io.Writer = os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	switch *format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(entries); err != nil {
			return fmt.Errorf("writing JSON: %w", err)
		}
	case "csv":
		if err := writeCSV(out, entries); err != nil {
			return fmt.Errorf("writing CSV: %w", err)
		}
	}

	fmt.Fprintf(os.Stderr, "Exported %d resolutions\n", len(entries))
	return nil
}

func writeCSV(out io.Writer, entries []exportEntry) error {
	w := csv.NewWriter(out)
	if err := w.Write([]string{"id", "timestamp", "source_url", "source_host",
		"final_url", "outcome", "failure_reason", "request_mode",
		"redirect_count", "duration_ms", "cached"}); err != nil {
		return err
	}
	for _, e := range entries {
		record := []string{
			strconv.FormatInt(e.ID, 10),
			e.Timestamp,
			e.SourceURL,
			e.SourceHost,
			e.FinalURL,
			e.Outcome,
			e.FailureReason,
			e.RequestMode,
			strconv.Itoa(e.RedirectCount),
			strconv.FormatFloat(e.DurationMs, 'f', 3, 64),
			strconv.FormatBool(e.Cached),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
