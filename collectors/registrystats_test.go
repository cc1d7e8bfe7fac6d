package collectors

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pkgsignal.dev/analyzer/model"
)

func TestRegistryStatsCollectorNoURLReturnsStarsOnly(t *testing.T) {
	c := &RegistryStatsCollector{}
	in := Input{Name: "left-pad", RawDoc: model.RawPackageDoc{Users: map[string]bool{"alice": true, "bob": true}}}

	out, err := c.Run(context.Background(), in)
	require.NoError(t, err)
	rs := out.(*model.RegistryStats)
	assert.Equal(t, int64(2), rs.StarsCount)
	assert.Empty(t, rs.Downloads)
}

func TestRegistryStatsCollectorParsesDownloadsAndDependents(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/point/last-365-days/left-pad", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"downloads":[{"day":"2026-07-30","downloads":100},{"day":"2026-01-01","downloads":50}]}`))
	})
	mux.HandleFunc("/_design/app/_view/dependedUpon", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"total_rows":7}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := &RegistryStatsCollector{}
	in := Input{
		Name:             "left-pad",
		RawDoc:           model.RawPackageDoc{Users: map[string]bool{"alice": true}},
		RegistryStatsURL: srv.URL,
	}

	out, err := c.Run(context.Background(), in)
	require.NoError(t, err)
	rs := out.(*model.RegistryStats)
	assert.Equal(t, int64(1), rs.StarsCount)
	assert.Equal(t, int64(7), rs.DependentsCount)
	require.Len(t, rs.Downloads, 6)
}

func TestRegistryStatsCollectorTreatsNotFoundAsZeroedButKeepsStars(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := &RegistryStatsCollector{}
	in := Input{
		Name:             "ghost-package",
		RawDoc:           model.RawPackageDoc{Users: map[string]bool{"alice": true, "bob": true, "carol": true}},
		RegistryStatsURL: srv.URL,
	}

	out, err := c.Run(context.Background(), in)
	require.NoError(t, err)
	rs := out.(*model.RegistryStats)
	assert.Equal(t, int64(3), rs.StarsCount)
	assert.Empty(t, rs.Downloads)
}

func TestRegistryStatsCollectorTreatsRegistryErrorFieldAsZeroed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"no stats for this package"}`))
	}))
	defer srv.Close()

	c := &RegistryStatsCollector{}
	in := Input{Name: "left-pad", RegistryStatsURL: srv.URL}

	out, err := c.Run(context.Background(), in)
	require.NoError(t, err)
	rs := out.(*model.RegistryStats)
	assert.Equal(t, int64(0), rs.StarsCount)
}

func TestRegistryStatsCollectorServerErrorIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := &RegistryStatsCollector{}
	in := Input{Name: "left-pad", RegistryStatsURL: srv.URL}

	_, err := c.Run(context.Background(), in)
	assert.Error(t, err)
}

func TestFetchDependentsCountReturnsZeroWithoutURL(t *testing.T) {
	assert.Equal(t, int64(0), fetchDependentsCount(context.Background(), Input{}))
}
