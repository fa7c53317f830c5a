package reconcile

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeVariants(t *testing.T) {
	ev := Decode([]byte(`["status", {"status":"processing","subnet":"LLM","itemID":1}]`))
	assert.Equal(t, KindStatus, ev.Kind)
	assert.Equal(t, "processing", ev.Payload["status"])

	ev = Decode([]byte(`{"status":"done","name":"LLM","id":"a"}`))
	assert.Equal(t, KindStatus, ev.Kind)

	ev = Decode([]byte(`["error", "runner crashed"]`))
	assert.Equal(t, KindError, ev.Kind)
	assert.Equal(t, "runner crashed", ev.Text)

	ev = Decode([]byte(`["error", {"subnet":"LLM","itemID":"x"}]`))
	assert.Equal(t, KindError, ev.Kind)
	assert.Equal(t, "LLM", ev.Payload["subnet"])

	for _, raw := range []string{`heartbeat`, `{"ping":true}`, `["status", "oops"]`, `[1,2,3]`} {
		ev = Decode([]byte(raw))
		assert.Equal(t, KindUnknown, ev.Kind, raw)
		assert.NotEmpty(t, ev.Raw, raw)
	}
}

func TestNormalizeDropsSentinelAndEmptyNames(t *testing.T) {
	n := NewNormalizer(nil, nil)
	for _, raw := range []string{
		`{"status":"processing","subnet":"Unknown Subnet","itemID":"1"}`,
		`{"status":"processing","subnet":{"name":"unknown subnet"},"itemID":"1"}`,
		`{"status":"processing","subnet":"","itemID":"1"}`,
		`{"status":"processing","itemID":"1"}`,
		`{"status":"processing","subnet":"LLM"}`,
		`["error", "no identity"]`,
	} {
		_, ok := n.Normalize(Decode([]byte(raw)))
		assert.False(t, ok, raw)
	}
}

func TestNormalizeStatusEvent(t *testing.T) {
	n := NewNormalizer(nil, nil)
	step, ok := n.Normalize(Decode([]byte(`["status", {
		"status": "completed",
		"subnet": {"name": "Image Generator"},
		"itemID": 3,
		"response": {"message": "done: https://img.example.com/out.png"},
		"extractedImages": ["https://img.example.com/prev.jpg"],
		"fileData": "iVBOR", "contentType": "image/png"
	}]`)))
	require.True(t, ok)

	assert.Equal(t, "3", step.ItemID)
	assert.Equal(t, "Image Generator", step.Name)
	assert.Equal(t, StatusSuccess, step.Status)
	assert.Equal(t, "done: https://img.example.com/out.png", step.Message)
	assert.Equal(t, []string{"https://img.example.com/prev.jpg", "https://img.example.com/out.png"}, step.ExtractedImages)
	require.Len(t, step.Files, 1)
	assert.Equal(t, "3-output.png", step.Files[0].Name)
}

func TestNormalizeErrorForcesErrorStatus(t *testing.T) {
	n := NewNormalizer(nil, nil)
	step, ok := n.Normalize(Decode([]byte(`["error", {"status":"processing","subnet":"LLM","itemID":"a","error":"quota exceeded"}]`)))
	require.True(t, ok)
	assert.Equal(t, StatusError, step.Status)
	assert.Equal(t, "quota exceeded", step.Message)
}

func TestNormalizeUnknownBecomesSyntheticPending(t *testing.T) {
	n := NewNormalizer(nil, nil)
	a, ok := n.Normalize(Decode([]byte(`heartbeat 1`)))
	require.True(t, ok)
	b, _ := n.Normalize(Decode([]byte(`heartbeat 1`)))
	c, _ := n.Normalize(Decode([]byte(`heartbeat 2`)))

	assert.Equal(t, StatusPending, a.Status)
	assert.Equal(t, "heartbeat 1", a.Message)
	assert.True(t, strings.HasPrefix(a.ItemID, "raw-"))
	assert.Len(t, a.ItemID, len("raw-")+16)
	assert.Equal(t, a.ItemID, b.ItemID)
	assert.NotEqual(t, a.ItemID, c.ItemID)
}

func TestNormalizeIsIdempotentOnCanonicalSteps(t *testing.T) {
	n := NewNormalizer(nil, nil)
	inputs := []string{
		`{"status":"completed","subnet":"LLM","itemID":1,"response":"see https://x.io/a.png"}`,
		`{"status":"processing","subnet":{"name":"Search"},"id":"s-1","response":{"hits":2}}`,
		`["error", {"subnet":"Writer","itemID":"w","error":{"message":"bad"}}]`,
		`{"status":"done","name":"Files","itemID":"f","fileData":"eA==","contentType":"application/json"}`,
		`not even json`,
	}
	for _, raw := range inputs {
		first, ok := n.Normalize(Decode([]byte(raw)))
		require.True(t, ok, raw)

		canonical, err := json.Marshal(first)
		require.NoError(t, err)
		second, ok := n.Normalize(Decode(canonical))
		require.True(t, ok, raw)
		assert.Equal(t, first, second, raw)
	}
}

func TestIsChainable(t *testing.T) {
	n := NewNormalizer(nil, nil)
	assert.True(t, n.IsChainable("Text Generation v2"))
	assert.True(t, n.IsChainable("Summarizer"))
	assert.True(t, n.IsChainable("ChatBot"))
	assert.False(t, n.IsChainable("Image Generator"))

	custom := NewNormalizer([]string{"N/A"}, []string{"Image"})
	assert.True(t, custom.IsChainable("image generator"))
	_, ok := custom.Normalize(Decode([]byte(`{"status":"done","subnet":"n/a","itemID":"1"}`)))
	assert.False(t, ok)
}
