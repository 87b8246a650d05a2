package memory

import (
	"bytes"
	"context"
	"testing"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	uri, err := store.PutObject(context.Background(), "screenshots/shop.example/a.png", "image/png", bytes.NewReader([]byte("png")))
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://screenshots/shop.example/a.png" {
		t.Fatalf("unexpected uri %s", uri)
	}
	got, ok := store.Object("screenshots/shop.example/a.png")
	if !ok || string(got) != "png" {
		t.Fatalf("unexpected object %q ok=%v", got, ok)
	}
	got[0] = 'P'
	again, _ := store.Object("screenshots/shop.example/a.png")
	if string(again) != "png" {
		t.Fatalf("expected stored copy to be immutable, got %q", again)
	}
	if _, ok := store.Object("missing"); ok {
		t.Fatal("expected missing object")
	}
}
