package identifier

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
)

func TestNewRandomShape(t *testing.T) {
	const n = 10000
	seen := make(map[Identifier]struct{}, n)

	for i := 0; i < n; i++ {
		id := NewRandom()
		if _, dup := seen[id]; dup {
			t.Fatalf("NewRandom() produced duplicate %s after %d calls", id, i)
		}
		seen[id] = struct{}{}

		if got := id[6] >> 4; got != 0x4 {
			t.Fatalf("byte 6 high nibble = %#x, want 0x4", got)
		}
		if got := id[8] >> 6; got != 0b10 {
			t.Fatalf("byte 8 top bits = %#b, want 0b10", got)
		}
	}
}

func TestNewRandomConcurrent(t *testing.T) {
	const workers, perWorker = 8, 1000

	var mu sync.Mutex
	seen := make(map[Identifier]struct{}, workers*perWorker)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]Identifier, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				local = append(local, NewRandom())
			}
			mu.Lock()
			for _, id := range local {
				seen[id] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != workers*perWorker {
		t.Errorf("unique identifiers = %d, want %d", len(seen), workers*perWorker)
	}
}

func TestFromBytes(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wantErr bool
	}{
		{"empty", 0, true},
		{"short", 15, true},
		{"exact", 16, false},
		{"long", 17, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data := make([]byte, tc.size)
			for i := range data {
				data[i] = byte(i + 1)
			}
			id, err := FromBytes(data)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidLength) {
					t.Errorf("FromBytes(%d bytes) error = %v, want ErrInvalidLength", tc.size, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("FromBytes() error = %v", err)
			}
			if string(id.Bytes()) != string(data) {
				t.Errorf("Bytes() = %v, want %v", id.Bytes(), data)
			}
		})
	}
}

func TestFromBytesCopies(t *testing.T) {
	data := make([]byte, Size)
	id, err := FromBytes(data)
	if err != nil {
		t.Fatal(err)
	}
	data[0] = 0xff
	if id[0] != 0 {
		t.Error("FromBytes() aliases the input slice")
	}
}

func TestStringMatchesUUID(t *testing.T) {
	for i := 0; i < 100; i++ {
		id := NewRandom()
		want := uuid.UUID(id).String()
		if got := id.String(); got != want {
			t.Fatalf("String() = %q, want %q", got, want)
		}
		if len(id.String()) != StringLen {
			t.Fatalf("len(String()) = %d, want %d", len(id.String()), StringLen)
		}
	}
}

func TestParseRoundTrip(t *testing.T) {
	id := NewRandom()
	parsed, err := Parse(id.String())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if parsed != id {
		t.Errorf("Parse(String()) = %s, want %s", parsed, id)
	}

	upper, err := Parse(strings.ToUpper(id.String()))
	if err != nil {
		t.Fatalf("Parse(upper) error = %v", err)
	}
	if upper != id {
		t.Errorf("Parse(upper) = %s, want %s", upper, id)
	}

	if _, err := Parse("not-an-identifier"); err == nil {
		t.Error("Parse(garbage) should fail")
	}
}

func TestTextMarshalling(t *testing.T) {
	id := NewRandom()
	text, err := id.MarshalText()
	if err != nil {
		t.Fatal(err)
	}
	var back Identifier
	if err := back.UnmarshalText(text); err != nil {
		t.Fatal(err)
	}
	if back != id {
		t.Errorf("UnmarshalText(MarshalText()) = %s, want %s", back, id)
	}
}

func TestNil(t *testing.T) {
	if !Nil.IsZero() {
		t.Error("Nil.IsZero() = false")
	}
	if NewRandom().IsZero() {
		t.Error("NewRandom().IsZero() = true")
	}
	if got := Nil.String(); got != "00000000-0000-0000-0000-000000000000" {
		t.Errorf("Nil.String() = %q", got)
	}
	if v := NewRandom().Version(); v != 4 {
		t.Errorf("Version() = %d, want 4", v)
	}
}

func BenchmarkNewRandom(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = NewRandom()
	}
}

func BenchmarkString(b *testing.B) {
	id := NewRandom()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = id.String()
	}
}
