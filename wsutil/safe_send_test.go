package wsutil

import "testing"

func TestSafeSend(t *testing.T) {
	ch := make(chan []byte, 1)
	if !SafeSend(ch, []byte("a")) {
		t.Error("expected send into empty buffer")
	}
	if SafeSend(ch, []byte("b")) {
		t.Error("expected full channel to skip")
	}
	close(ch)
	if SafeSend(ch, []byte("c")) {
		t.Error("expected closed channel to skip")
	}
}
