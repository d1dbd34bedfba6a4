package byteseq

import "bytes"

import "testing"

func TestAppendPrepend(t *testing.T) {
	var b Buffer
	b.Append([]byte("world"))
	b.Prepend([]byte("hello "))
	if got, want := b.Bytes(), []byte("hello world"); !bytes.Equal(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestShiftPartial(t *testing.T) {
	var b Buffer
	b.Append([]byte("abcdef"))
	head := b.Shift(3)
	if !bytes.Equal(head, []byte("abc")) {
		t.Fatalf("head = %q, want abc", head)
	}
	if !bytes.Equal(b.Bytes(), []byte("def")) {
		t.Fatalf("remainder = %q, want def", b.Bytes())
	}
}

func TestShiftAll(t *testing.T) {
	var b Buffer
	b.Append([]byte("abc"))
	head := b.Shift(10)
	if !bytes.Equal(head, []byte("abc")) {
		t.Fatalf("head = %q, want abc", head)
	}
	if b.Len() != 0 {
		t.Fatalf("buffer not emptied, len=%d", b.Len())
	}
}

func TestFind(t *testing.T) {
	var b Buffer
	b.Append([]byte("xxD5AA96yy"))
	idx := b.Find([]byte{'D', '5', 'A', 'A', '9', '6'}, 0)
	if idx != 2 {
		t.Fatalf("Find = %d, want 2", idx)
	}
	if b.Find([]byte("nope"), 0) != -1 {
		t.Fatal("Find should report -1 for absent needle")
	}
}

func TestGrowthSurvivesManyAppends(t *testing.T) {
	var b Buffer
	for i := 0; i < 1000; i++ {
		b.Append([]byte{byte(i)})
	}
	if b.Len() != 1000 {
		t.Fatalf("Len = %d, want 1000", b.Len())
	}
	for i := 0; i < 1000; i++ {
		if b.Bytes()[i] != byte(i) {
			t.Fatalf("byte %d = %d, want %d", i, b.Bytes()[i], byte(i))
		}
	}
}

func TestReset(t *testing.T) {
	var b Buffer
	b.Append([]byte("abc"))
	b.Reset()
	if b.Len() != 0 {
		t.Fatal("Reset did not empty buffer")
	}
	b.Append([]byte("d"))
	if !bytes.Equal(b.Bytes(), []byte("d")) {
		t.Fatalf("buffer reusable after Reset, got %q", b.Bytes())
	}
}
