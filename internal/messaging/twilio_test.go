package messaging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSender(t *testing.T, h http.HandlerFunc) *TwilioSender {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	s, err := NewTwilioSender(TwilioConfig{AccountSID: "AC123", AuthToken: "secret", FromNumber: "+15550000000", BaseURL: srv.URL + "/"})
	require.NoError(t, err)
	return s
}

func TestSend(t *testing.T) {
	s := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2010-04-01/Accounts/AC123/Messages.json", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "AC123", user)
		assert.Equal(t, "secret", pass)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "+15551234567", r.PostForm.Get("To"))
		assert.Equal(t, "+15550000000", r.PostForm.Get("From"))
		assert.Equal(t, "Hi Sam, use code SAVEABC234", r.PostForm.Get("Body"))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM42","status":"queued"}`))
	})

	sid, err := s.Send(context.Background(), "+15551234567", "Hi Sam, use code SAVEABC234")
	require.NoError(t, err)
	assert.Equal(t, "SM42", sid)
}

func TestSend_APIError(t *testing.T) {
	s := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21211,"message":"The 'To' number is not a valid phone number.","status":400}`))
	})

	_, err := s.Send(context.Background(), "+1", "hello")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 21211, apiErr.Code)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
}

func TestSend_UnparseableErrorBody(t *testing.T) {
	s := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := s.Send(context.Background(), "+15551234567", "hello")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Service Unavailable", apiErr.Message)
}

func TestNewTwilioSender_Validates(t *testing.T) {
	_, err := NewTwilioSender(TwilioConfig{AccountSID: "AC1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth token, from number")
}

func TestSend_RequiresRecipientAndBody(t *testing.T) {
	s, err := NewTwilioSender(TwilioConfig{AccountSID: "AC1", AuthToken: "x", FromNumber: "+1555"})
	require.NoError(t, err)
	_, err = s.Send(context.Background(), "", "hi")
	assert.Error(t, err)
	_, err = s.Send(context.Background(), "+15551234567", " ")
	assert.Error(t, err)
}
