package chunkbuf

import (
	"io"
	"testing"
)

func TestBufferWriteRead(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		writes   []string
		wantErr  []bool
	}{
		{name: "single write", capacity: 16, writes: []string{"hello"}, wantErr: []bool{false}},
		{name: "exact capacity", capacity: 5, writes: []string{"hello"}, wantErr: []bool{false}},
		{name: "overflow", capacity: 4, writes: []string{"hello"}, wantErr: []bool{true}},
		{name: "fill then wrap", capacity: 8, writes: []string{"1234", "5678"}, wantErr: []bool{false, false}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuffer(tt.capacity)
			for i, w := range tt.writes {
				_, err := b.Write([]byte(w))
				if (err != nil) != tt.wantErr[i] {
					t.Fatalf("write %d: got err=%v, want err=%v", i, err, tt.wantErr[i])
				}
			}
		})
	}
}

func TestBufferReadDrainsInOrder(t *testing.T) {
	b := NewBuffer(8)
	if _, err := b.Write([]byte("abcd")); err != nil {
		t.Fatal(err)
	}
	out := make([]byte, 2)
	n, err := b.Read(out)
	if err != nil || n != 2 || string(out) != "ab" {
		t.Fatalf("got n=%d err=%v out=%q", n, err, out)
	}
	if _, err := b.Write([]byte("efgh")); err != nil {
		t.Fatalf("write after partial read: %v", err)
	}
	rest := make([]byte, 6)
	n, err = b.Read(rest)
	if err != nil || n != 6 || string(rest) != "cdefgh" {
		t.Fatalf("got n=%d err=%v rest=%q", n, err, rest)
	}
	if b.Buffered() != 0 {
		t.Fatalf("expected empty buffer, got %d buffered", b.Buffered())
	}
}

func TestBufferPeekDoesNotAdvance(t *testing.T) {
	b := NewBuffer(8)
	b.Write([]byte("xyz"))
	p := make([]byte, 3)
	if _, err := b.Peek(p); err != nil {
		t.Fatal(err)
	}
	if b.Buffered() != 3 {
		t.Fatalf("peek must not advance read cursor, buffered=%d", b.Buffered())
	}
}

func TestBufferReadEmptyIsEOF(t *testing.T) {
	b := NewBuffer(4)
	_, err := b.Read(make([]byte, 1))
	if err != io.EOF {
		t.Fatalf("want io.EOF, got %v", err)
	}
}

func TestChunkCountBound(t *testing.T) {
	b := NewBuffer(22880)
	b.Write(make([]byte, 22880))
	if got := b.ChunkCount(); got > MaxChunks {
		t.Fatalf("chunk_count %d exceeds max_chunk_count %d", got, MaxChunks)
	}
	if b.ChunkCount() != MaxChunks {
		t.Fatalf("fully-buffered arena should report %d chunks, got %d", MaxChunks, b.ChunkCount())
	}
}

func TestChunkCountZeroWhenEmpty(t *testing.T) {
	b := NewBuffer(1024)
	if got := b.ChunkCount(); got != 0 {
		t.Fatalf("empty buffer should report 0 chunks, got %d", got)
	}
}

func TestDiscard(t *testing.T) {
	b := NewBuffer(8)
	b.Write([]byte("12345678"))
	if err := b.Discard(4); err != nil {
		t.Fatal(err)
	}
	if b.Buffered() != 4 {
		t.Fatalf("expected 4 buffered after discard, got %d", b.Buffered())
	}
	if err := b.Discard(5); err == nil {
		t.Fatal("expected error discarding past buffered length")
	}
}
