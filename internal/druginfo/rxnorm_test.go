package druginfo

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rxnormServer(t *testing.T, interactions int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/rxcui.json", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("search"))
		if r.URL.Query().Get("name") != "metformin" {
			_, _ = w.Write([]byte(`{"idGroup":{}}`))
			return
		}
		_, _ = w.Write([]byte(`{"idGroup":{"rxnormId":["6809"]}}`))
	})
	mux.HandleFunc("/rxcui/6809/properties.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"properties":{"name":"metformin"}}`))
	})
	mux.HandleFunc("/interaction/interaction.json", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "6809", r.URL.Query().Get("rxcui"))
		pairs := ""
		for i := 0; i < interactions; i++ {
			if i > 0 {
				pairs += ","
			}
			pairs += fmt.Sprintf(`{"description":"interaction %d"}`, i)
		}
		fmt.Fprintf(w, `{"interactionTypeGroup":[{"interactionType":[{"interactionPair":[%s]}]}]}`, pairs)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRxNorm_Lookup(t *testing.T) {
	srv := rxnormServer(t, 7)

	info, err := NewRxNormClient(srv.URL, srv.Client()).Lookup(context.Background(), "metformin")
	require.NoError(t, err)
	require.NotNil(t, info)

	assert.True(t, info.Validated)
	assert.False(t, info.FDAApproved)
	assert.Equal(t, "metformin", info.BrandName)
	assert.Equal(t, "metformin", info.GenericName)
	assert.Equal(t, NotAvailable, info.Manufacturer)
	assert.Equal(t, ConsultProvider, info.Indications)
	assert.Len(t, info.Interactions, maxInteractions)
	assert.Equal(t, "interaction 0", info.Interactions[0])
	assert.Equal(t, "rxnorm", info.Source)
}

func TestRxNorm_UnknownName(t *testing.T) {
	srv := rxnormServer(t, 0)

	info, err := NewRxNormClient(srv.URL, srv.Client()).Lookup(context.Background(), "zzzz")
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestRxNorm_InteractionFailureKeepsRecord(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rxcui.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"idGroup":{"rxnormId":["1"]}}`))
	})
	mux.HandleFunc("/rxcui/1/properties.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"properties":{}}`))
	})
	mux.HandleFunc("/interaction/interaction.json", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	info, err := NewRxNormClient(srv.URL, srv.Client()).Lookup(context.Background(), "Glucophage")
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "Glucophage", info.BrandName)
	assert.Empty(t, info.Interactions)
}

func TestRxNorm_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	_, err := NewRxNormClient(srv.URL, srv.Client()).Lookup(context.Background(), "metformin")
	assert.Error(t, err)
}
