package extract

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/datapipes/etl/transform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const surveyCSV = `Year,Industry_aggregation_NZSIOC,Industry_code_NZSIOC,Industry_name_NZSIOC,Units,Variable_code,Variable_name,Variable_category,Value
2023,Level 1,99999,All industries,Dollars (millions),H01,Total income,Financial performance,"930,995"
2023,Level 1,AA,"Agriculture, Forestry and Fishing",Dollars (millions),H01,Total income,Financial performance,"61,047"
`

func TestParseCSV(t *testing.T) {
	records, err := ParseCSV(strings.NewReader(surveyCSV), "")
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, transform.RawRecord{
		"Year":                        "2023",
		"Industry_aggregation_NZSIOC": "Level 1",
		"Industry_code_NZSIOC":        "AA",
		"Industry_name_NZSIOC":        "Agriculture, Forestry and Fishing",
		"Units":                       "Dollars (millions)",
		"Variable_code":               "H01",
		"Variable_name":               "Total income",
		"Variable_category":           "Financial performance",
		"Value":                       "61,047",
	}, records[1])
}

func TestParseCSVEncodings(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		encoding string
		expected string
	}{
		{name: "utf-8 with BOM", input: "\ufeffname\nCuraçao\n", encoding: "utf-8", expected: "Curaçao"},
		{name: "windows-1252", input: "name\nCura\xe7ao \x80\n", encoding: "windows-1252", expected: "Curaçao €"},
		{name: "latin1 label", input: "name\nM\xe4ori\n", encoding: "iso-8859-1", expected: "Mäori"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := ParseCSV(strings.NewReader(tt.input), tt.encoding)
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.Equal(t, tt.expected, records[0]["name"])
		})
	}
}

func TestParseCSVErrors(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		encoding  string
		wantError string
	}{
		{name: "empty", input: "", wantError: "CSV document is empty"},
		{name: "ragged row", input: "a,b\n1,2,3\n", wantError: "failed to read CSV record"},
		{name: "duplicate header", input: "a, a\n1,2\n", wantError: `duplicate CSV column "a"`},
		{name: "unknown encoding", input: "a\n1\n", encoding: "klingon", wantError: `unsupported encoding "klingon"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCSV(strings.NewReader(tt.input), tt.encoding)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantError)
		})
	}
}

func TestCSVFetcher(t *testing.T) {
	zipped, err := createZipFile(map[string][]byte{"annual-enterprise-survey.csv": []byte(surveyCSV)})
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/survey.csv":
			w.Write([]byte(surveyCSV))
		case "/survey.zip":
			w.Write(zipped)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := setupTestClient(t)
	gzPath := filepath.Join(t.TempDir(), "survey.csv.gz")
	require.NoError(t, os.WriteFile(gzPath, gzipBytes(t, []byte(surveyCSV)), 0o644))

	tests := []struct {
		name    string
		fetcher *CSVFetcher
	}{
		{"http plain", &CSVFetcher{Client: client, URL: server.URL + "/survey.csv"}},
		{"http zip", &CSVFetcher{Client: client, URL: server.URL + "/survey.zip"}},
		{"file gzip", &CSVFetcher{Path: gzPath}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := tt.fetcher.Fetch(context.Background())
			require.NoError(t, err)
			require.Len(t, records, 2)
			assert.Equal(t, "99999", records[0]["Industry_code_NZSIOC"])
		})
	}

	t.Run("missing", func(t *testing.T) {
		_, err := (&CSVFetcher{Client: client, URL: server.URL + "/gone.csv"}).Fetch(context.Background())
		assert.ErrorIs(t, err, ErrNotAvailable)
	})
}
