package cleanup

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relaywatch/jobrunner-worker/internal/restclient"
)

func TestResetIncompleteRunsPatchesBothStates(t *testing.T) {
	var patchedURIs []string
	var seenStates []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			state := r.URL.Query().Get("state")
			seenStates = append(seenStates, state)
			require.Equal(t, "k", r.URL.Query().Get("worker__api_key"))
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"meta":{"next":null},"objects":[{"id":1,"resource_uri":"/api/v1/run/1/"}]}`))
		case r.Method == http.MethodPatch:
			patchedURIs = append(patchedURIs, r.URL.Path)
			w.WriteHeader(http.StatusAccepted)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	rc, err := restclient.New(restclient.Config{BaseURL: srv.URL, APIKey: "k", Secret: "s", Logger: zap.NewNop()})
	require.NoError(t, err)

	err = ResetIncompleteRuns(context.Background(), rc, "/api/v1/run/", "k", zap.NewNop())
	require.NoError(t, err)

	require.ElementsMatch(t, []string{"in_queue", "started"}, seenStates)
	require.Len(t, patchedURIs, 2)
}
