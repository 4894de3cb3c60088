package llamacpp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngB64(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 2, 2))))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestDescribeImage(t *testing.T) {
	var got ChatCompletionRequest
	var imageURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		var raw struct {
			Messages []struct {
				Content []ContentPart `json:"content"`
			} `json:"messages"`
		}
		body := new(bytes.Buffer)
		body.ReadFrom(r.Body)
		require.NoError(t, json.Unmarshal(body.Bytes(), &got))
		require.NoError(t, json.Unmarshal(body.Bytes(), &raw))
		imageURL = raw.Messages[0].Content[1].ImageURL.URL

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{"role": "assistant", "content": `{"label":"box","confidence":0.5,"tags":["box"],}`},
			}},
		})
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL + "/")
	require.NoError(t, err)

	label, err := c.DescribeImage(context.Background(), "llava", "describe", pngB64(t))
	require.NoError(t, err)
	assert.Equal(t, "box", label.Label)
	assert.Equal(t, "llava", got.Model)
	assert.True(t, strings.HasPrefix(imageURL, "data:image/png;base64,"), imageURL)
}

func TestSimpleQueryContentParts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{"role": "assistant", "content": []map[string]any{{"type": "text", "text": "a square"}}},
			}},
		})
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	out, err := c.SimpleQuery(context.Background(), "llava", "what?", "")
	require.NoError(t, err)
	assert.Equal(t, "a square", out)
}

func TestServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	_, err = c.SimpleQuery(context.Background(), "llava", "what?", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	_, err = c.DescribeImage(context.Background(), "llava", "describe", "")
	assert.Error(t, err)
}
