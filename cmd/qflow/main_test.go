package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

// fixtureCSV is a pipe-delimited response in the object store's wire
// format: a header line (stripped by the decoder) followed by data rows.
const fixtureCSV = "l_returnflag|l_quantity|l_extendedprice\n" +
	"A|10|100.00\n" +
	"A|5|50.00\n" +
	"N|20|200.00\n"

func newFixtureServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Qflow-Bytes-Scanned", "1024")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(fixtureCSV))
	}))
}

// TestRunPlanFiltersAndGroups exercises the whole CLI assembly path
// (buildPlan -> Plan.Execute) against an in-process HTTP stand-in for the
// object store, mirroring the teacher's own in-process integration tests.
func TestRunPlanFiltersAndGroups(t *testing.T) {
	srv := newFixtureServer(t)
	defer srv.Close()

	pf := &planFile{
		Name: "test-plan",
		Objectstore: objectstoreSpec{
			BaseURL: srv.URL,
		},
		Source: sourceSpec{
			Bucket: "tpch",
			Key:    "lineitem.csv",
			SQL:    "SELECT l_returnflag, l_quantity, l_extendedprice FROM s3object",
			Format: "csv",
			Schema: []columnSpec{
				{Name: "l_returnflag", Type: "string"},
				{Name: "l_quantity", Type: "float64"},
				{Name: "l_extendedprice", Type: "float64"},
			},
		},
		Filter: &filterSpec{Column: "l_quantity", Op: ">", Value: float64(6)},
		Group: &groupSpec{
			Keys: []string{"l_returnflag"},
			Aggs: []aggSpec{
				{Kind: "sum", Column: "l_extendedprice", As: "sum_revenue"},
				{Kind: "count", As: "count_order"},
			},
		},
	}

	p, collate, err := buildPlan(pf)
	require.NoError(t, err)
	require.NoError(t, p.Execute(context.Background()))

	rows := collate.Rows()
	require.Len(t, rows, 2)

	got := map[string]float64{}
	counts := map[string]int64{}
	for _, row := range rows {
		got[row[0].Str] = row[1].F64
		counts[row[0].Str] = row[2].I64
	}
	require.Equal(t, 100.0, got["A"])
	require.Equal(t, int64(1), counts["A"])
	require.Equal(t, 200.0, got["N"])
	require.Equal(t, int64(1), counts["N"])
}

func TestExplainReportsTopologicalOrder(t *testing.T) {
	pf := &planFile{
		Name: "test-plan",
		Objectstore: objectstoreSpec{
			BaseURL: "http://example.invalid",
		},
		Source: sourceSpec{
			Bucket: "tpch",
			Key:    "lineitem.csv",
			SQL:    "SELECT l_returnflag FROM s3object",
			Format: "csv",
			Schema: []columnSpec{
				{Name: "l_returnflag", Type: "string"},
			},
		},
	}
	p, _, err := buildPlan(pf)
	require.NoError(t, err)

	order, err := p.Explain()
	require.NoError(t, err)
	require.Equal(t, []string{"scan", "collate"}, order)
}
