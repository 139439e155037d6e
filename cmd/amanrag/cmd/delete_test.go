package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amanrag/pkg/client"
)

func TestDeleteCmd_RendersReport(t *testing.T) {
	// Given: a server returning a complete deletion report
	report := client.DeletionReport{
		DocID:          "abc123",
		VectorStore:    client.StageReport{Status: "deleted", Counts: map[string]int{"visual": 10, "text": 4}},
		PageImages:     client.StageReport{Status: "deleted", Counts: map[string]int{"pages": 10}},
		AlbumArt:       client.StageReport{Status: "deleted"},
		StructureCache: client.StageReport{Status: "deleted"},
		Workspace:      client.StageReport{Status: "deleted"},
		SourceObject:   client.StageReport{Status: "skipped"},
		Complete:       true,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		require.Equal(t, "/documents/abc123", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(report)
	}))
	defer srv.Close()

	cmd := newDeleteCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"abc123", "--server", srv.URL})

	// When: executing
	err := cmd.Execute()

	// Then: every stage renders and the summary reports success
	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "vector store")
	assert.Contains(t, output, "source object")
	assert.Contains(t, output, "skipped")
	assert.Contains(t, output, "Deleted abc123")
}

func TestDeleteCmd_PartialFailureWarns(t *testing.T) {
	report := client.DeletionReport{
		DocID:        "abc123",
		VectorStore:  client.StageReport{Status: "deleted"},
		PageImages:   client.StageReport{Status: "failed", Error: "permission denied"},
		SourceObject: client.StageReport{Status: "skipped"},
		Complete:     false,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(report)
	}))
	defer srv.Close()

	cmd := newDeleteCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"abc123", "--server", srv.URL})

	err := cmd.Execute()

	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "permission denied")
	assert.Contains(t, output, "Partially deleted")
}

func TestDeleteCmd_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"document not found"}`))
	}))
	defer srv.Close()

	cmd := newDeleteCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"missing", "--server", srv.URL})

	err := cmd.Execute()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestDeleteCmd_JSONOutput(t *testing.T) {
	report := client.DeletionReport{DocID: "abc123", Complete: true}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(report)
	}))
	defer srv.Close()

	cmd := newDeleteCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"abc123", "--server", srv.URL, "--json"})

	err := cmd.Execute()

	require.NoError(t, err)
	var got client.DeletionReport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "abc123", got.DocID)
	assert.True(t, got.Complete)
}
