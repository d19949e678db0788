package ingestion

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/coverletter-agent/backend/internal/posting"
	"github.com/coverletter-agent/backend/internal/vector"
)

var ErrUnsupported = errors.New("unsupported file type")

// Section is one independently chunked piece of a source file. Most files
// yield a single section; CSV exports and JSON files yield one per record.
type Section struct {
	Text    string
	Type    string
	Company string
}

var supportedExt = map[string]bool{
	".txt": true, ".md": true, ".html": true, ".htm": true,
	".pdf": true, ".json": true, ".csv": true,
}

func Supported(path string) bool {
	return supportedExt[strings.ToLower(filepath.Ext(path))]
}

// Extract reads a file and returns its sections, typed from the file name.
func Extract(path string) ([]Section, error) {
	name := strings.ToLower(filepath.Base(path))
	ext := filepath.Ext(name)

	switch ext {
	case ".txt", ".md":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		return single(string(data), InferType(name)), nil

	case ".html", ".htm":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		text, ok := posting.StripHTML(string(data))
		if !ok {
			return nil, fmt.Errorf("failed to parse HTML in %s", path)
		}
		return single(text, InferType(name)), nil

	case ".pdf":
		text, err := extractPDF(path)
		if err != nil {
			return nil, err
		}
		return single(text, InferType(name)), nil

	case ".json":
		return extractJSON(path)

	case ".csv":
		switch {
		case strings.Contains(name, "profile"):
			return extractProfileCSV(path)
		case strings.Contains(name, "recommendation") && strings.Contains(name, "received"):
			return extractRecommendationsCSV(path)
		}
		return nil, fmt.Errorf("%w: unrecognized CSV export %s", ErrUnsupported, name)
	}

	return nil, fmt.Errorf("%w: %s", ErrUnsupported, ext)
}

func single(text, docType string) []Section {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return []Section{{Text: text, Type: docType}}
}

// InferType maps a file name to a document category.
func InferType(name string) string {
	name = strings.ToLower(name)
	switch {
	case strings.Contains(name, "achievement"):
		return vector.TypeAchievements
	case strings.Contains(name, "resume"), cvNameRe.MatchString(name):
		return vector.TypeResume
	case strings.Contains(name, "recommend"):
		return vector.TypeRecommendation
	case strings.HasSuffix(name, ".json"):
		return vector.TypeStructuredJSON
	}
	return vector.TypeDocument
}

var cvNameRe = regexp.MustCompile(`(^|[^a-z])cv([^a-z]|$)`)

func extractPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		b.WriteString(text)
		b.WriteString("\n")
	}

	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", fmt.Errorf("no text content found in PDF %s", path)
	}
	return text, nil
}

func extractJSON(path string) ([]Section, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to parse JSON %s: %w", path, err)
	}

	var out []Section
	add := func(text string) {
		if strings.TrimSpace(text) != "" {
			out = append(out, Section{Text: text, Type: vector.TypeStructuredJSON})
		}
	}

	switch top := v.(type) {
	case map[string]any:
		for _, key := range sortedKeys(top) {
			switch val := top[key].(type) {
			case map[string]any:
				if body := scalarLines(val, "  "); body != "" {
					add(key + ":\n" + body)
				}
			case []any:
				for i, item := range val {
					switch it := item.(type) {
					case string:
						add(fmt.Sprintf("%s [%d]: %s", key, i+1, it))
					case map[string]any:
						if body := scalarLines(it, "  "); body != "" {
							add(fmt.Sprintf("%s [%d]:\n%s", key, i+1, body))
						}
					}
				}
			default:
				if s, ok := scalar(val); ok {
					add(key + ": " + s)
				}
			}
		}
	case []any:
		for _, item := range top {
			switch it := item.(type) {
			case string:
				add(it)
			case map[string]any:
				add(scalarLines(it, ""))
			}
		}
	}
	return out, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func scalar(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case float64, bool:
		return fmt.Sprint(x), true
	}
	return "", false
}

func scalarLines(m map[string]any, indent string) string {
	var lines []string
	for _, k := range sortedKeys(m) {
		if s, ok := scalar(m[k]); ok {
			lines = append(lines, fmt.Sprintf("%s%s: %s", indent, k, s))
		}
	}
	return strings.Join(lines, "\n")
}

// readCSV returns rows keyed by header name.
func readCSV(path string) ([]map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	var rows []map[string]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row: %w", err)
		}
		row := make(map[string]string, len(header))
		for i, h := range header {
			if i < len(rec) {
				row[strings.TrimSpace(h)] = strings.TrimSpace(rec[i])
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func extractProfileCSV(path string) ([]Section, error) {
	rows, err := readCSV(path)
	if err != nil {
		return nil, err
	}

	var out []Section
	for _, row := range rows {
		if s := row["Summary"]; s != "" {
			out = append(out, Section{Text: "PROFESSIONAL SUMMARY:\n" + s, Type: vector.TypeLinkedInProfile})
		}
		if h := row["Headline"]; h != "" {
			out = append(out, Section{Text: "PROFESSIONAL HEADLINE: " + h, Type: vector.TypeLinkedInProfile})
		}
	}
	return out, nil
}

func extractRecommendationsCSV(path string) ([]Section, error) {
	rows, err := readCSV(path)
	if err != nil {
		return nil, err
	}

	var out []Section
	for _, row := range rows {
		if row["Text"] == "" || row["Status"] != "VISIBLE" {
			continue
		}
		recommender := strings.TrimSpace(row["First Name"] + " " + row["Last Name"])
		company := orUnknown(row["Company"])
		title := orUnknown(row["Job Title"])
		out = append(out, Section{
			Text:    fmt.Sprintf("RECOMMENDATION from %s (%s at %s):\n\n%s", recommender, title, company, row["Text"]),
			Type:    vector.TypeRecommendation,
			Company: row["Company"],
		})
	}
	return out, nil
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
