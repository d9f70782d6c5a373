package ai

import (
	"errors"
	"strings"
	"testing"
)

const helloStream = "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n" +
	": keep-alive\n" +
	"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n" +
	"data: [DONE]\n\n"

func TestStreamDecoder_everySplitPoint(t *testing.T) {
	raw := []byte(helloStream)
	for i := 0; i <= len(raw); i++ {
		dec := NewStreamDecoder(nil)
		var got []string
		got = append(got, dec.Feed(raw[:i])...)
		got = append(got, dec.Feed(raw[i:])...)
		got = append(got, dec.Flush()...)
		if strings.Join(got, "") != "Hello" {
			t.Fatalf("split at %d: tokens %q", i, got)
		}
		if len(got) != 2 {
			t.Fatalf("split at %d: want 2 tokens, got %q", i, got)
		}
		if !dec.Done() {
			t.Fatalf("split at %d: DONE not seen", i)
		}
	}
}

func TestStreamDecoder_byteAtATime(t *testing.T) {
	dec := NewStreamDecoder(nil)
	var got []string
	for _, b := range []byte(helloStream) {
		got = append(got, dec.Feed([]byte{b})...)
	}
	if strings.Join(got, "") != "Hello" {
		t.Fatalf("tokens %q", got)
	}
}

func TestStreamDecoder_skipsMalformedFrames(t *testing.T) {
	dec := NewStreamDecoder(nil)
	got := dec.Feed([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n" +
		"data: not json\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"b\"}}]}\n"))
	if strings.Join(got, "") != "ab" {
		t.Fatalf("tokens %q", got)
	}
	bad := dec.Malformed()
	if len(bad) != 1 {
		t.Fatalf("malformed = %d", len(bad))
	}
	if bad[0].Line != "data: not json" {
		t.Errorf("line = %q", bad[0].Line)
	}
	var protoErr *StreamProtocolError
	if !errors.As(error(bad[0]), &protoErr) {
		t.Error("not a StreamProtocolError")
	}
}

func TestStreamDecoder_stopsAtDone(t *testing.T) {
	dec := NewStreamDecoder(nil)
	got := dec.Feed([]byte("data: [DONE]\ndata: {\"choices\":[{\"delta\":{\"content\":\"late\"}}]}\n"))
	if len(got) != 0 {
		t.Fatalf("tokens after DONE: %q", got)
	}
	if late := dec.Feed([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n")); late != nil {
		t.Fatalf("feed after DONE: %q", late)
	}
	if dec.Flush() != nil {
		t.Fatal("flush after DONE returned tokens")
	}
}

func TestStreamDecoder_flushTrailingLine(t *testing.T) {
	dec := NewStreamDecoder(nil)
	if got := dec.Feed([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"tail\"}}]}")); len(got) != 0 {
		t.Fatalf("incomplete line produced %q", got)
	}
	got := dec.Flush()
	if len(got) != 1 || got[0] != "tail" {
		t.Fatalf("flush = %q", got)
	}
	if again := dec.Flush(); again != nil {
		t.Fatalf("second flush = %q", again)
	}
}

func TestStreamDecoder_ignoresEmptyDeltasAndOtherFields(t *testing.T) {
	dec := NewStreamDecoder(nil)
	got := dec.Feed([]byte("event: message\n" +
		"data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n" +
		"data: {\"choices\":[]}\n" +
		"data:\n" +
		"id: 7\n"))
	if len(got) != 0 {
		t.Fatalf("tokens %q", got)
	}
	if len(dec.Malformed()) != 0 {
		t.Fatalf("malformed = %v", dec.Malformed())
	}
}

func TestGeminiDelta(t *testing.T) {
	dec := NewStreamDecoder(GeminiDelta)
	got := dec.Feed([]byte(`data: {"candidates":[{"content":{"role":"model","parts":[{"text":"Hi "},{"text":"there"}]}}]}` + "\r\n\r\n"))
	if len(got) != 1 || got[0] != "Hi there" {
		t.Fatalf("tokens %q", got)
	}
}
