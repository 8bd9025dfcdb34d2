// Package ingest turns an uploaded recipient list into the store's
// RecipientInput shape: header-synonym matching, email validation, and
// dedup by lowercased address.
package ingest

import (
	"encoding/csv"
	"io"
	"net/mail"
	"strings"

	"github.com/orellanin/campaignrunner/internal/store"
)

// Summary reports what happened to a CSV beyond the rows that made it
// into the returned recipient slice.
type Summary struct {
	TotalRows     int
	Accepted      int
	InvalidEmails []string
	Duplicates    int
}

var columnSynonyms = map[string][]string{
	"email":     {"email", "e-mail", "emailaddress", "mail"},
	"firstName": {"firstname", "fname", "given_name", "name"},
	"lastName":  {"lastname", "lname", "surname", "family_name"},
	"company":   {"company", "organization", "org", "business", "employer"},
}

// ParseCSV reads a header-led CSV and returns the deduped, validated
// recipient set plus a summary of what was rejected.
func ParseCSV(r io.Reader) ([]store.RecipientInput, Summary, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, Summary{}, err
	}
	columns := mapColumns(header)

	var out []store.RecipientInput
	var summary Summary
	seen := make(map[string]bool)

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		summary.TotalRows++

		row := make(map[string]string, len(header))
		for i, value := range record {
			if i >= len(header) {
				break
			}
			row[header[i]] = strings.TrimSpace(value)
		}

		rawEmail := field(row, columns, "email")
		email := strings.ToLower(strings.TrimSpace(rawEmail))
		if !validEmail(email) {
			summary.InvalidEmails = append(summary.InvalidEmails, rawEmail)
			continue
		}
		if seen[email] {
			summary.Duplicates++
			continue
		}
		seen[email] = true

		vars := make(map[string]string)
		for _, h := range header {
			v := row[h]
			if v == "" {
				continue
			}
			switch columns[h] {
			case "email", "firstName", "lastName":
				// already extracted into a structured field
			case "company":
				vars["company"] = v
			default:
				vars[h] = v
			}
		}

		out = append(out, store.RecipientInput{
			Email:     email,
			FirstName: field(row, columns, "firstName"),
			LastName:  field(row, columns, "lastName"),
			Vars:      vars,
		})
		summary.Accepted++
	}

	return out, summary, nil
}

// mapColumns returns, for every header cell, which logical field it
// resolves to ("" if it matches no synonym).
func mapColumns(header []string) map[string]string {
	normalized := make([]string, len(header))
	for i, h := range header {
		normalized[i] = normalizeColumn(h)
		header[i] = normalized[i]
	}

	resolved := make(map[string]string, len(header))
	for logical, synonyms := range columnSynonyms {
		for i, h := range normalized {
			if containsAny(h, synonyms) {
				resolved[header[i]] = logical
				break
			}
		}
	}
	return resolved
}

func containsAny(h string, synonyms []string) bool {
	for _, s := range synonyms {
		if h == normalizeColumn(s) {
			return true
		}
	}
	return false
}

func normalizeColumn(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.ReplaceAll(h, " ", "")
	h = strings.ReplaceAll(h, "-", "")
	h = strings.ReplaceAll(h, "_", "")
	return h
}

// field looks up the raw value of a logical field by finding which
// original header column resolved to it.
func field(row map[string]string, columns map[string]string, logical string) string {
	for header, resolvedLogical := range columns {
		if resolvedLogical == logical {
			return row[header]
		}
	}
	return ""
}

func validEmail(email string) bool {
	if email == "" {
		return false
	}
	_, err := mail.ParseAddress(email)
	return err == nil
}
