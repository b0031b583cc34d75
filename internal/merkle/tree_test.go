package merkle

import (
	"crypto/sha256"
	"testing"
)

type memStore struct {
	nodes map[Hash]Node
}

func newMemStore() *memStore { return &memStore{nodes: map[Hash]Node{}} }

func (s *memStore) GetNode(h Hash) (Node, bool, error) {
	n, ok := s.nodes[h]
	return n, ok, nil
}

func (s *memStore) PutNode(h Hash, n Node) error {
	s.nodes[h] = n
	return nil
}

func keyHashOf(s string) Hash {
	return Hash(sha256.Sum256([]byte(s)))
}

func valueHashOf(s string) Hash {
	return Hash(sha256.Sum256([]byte("v:" + s)))
}

func TestEmptyTreeRoot(t *testing.T) {
	if EmptyRoot().IsZero() {
		t.Fatalf("empty root must not be the zero hash (that's reserved as the tombstone sentinel)")
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	store := newMemStore()
	tree := New(store)
	root := EmptyRoot()

	entries := map[string]string{
		"balance:alice": "100",
		"balance:bob":   "200",
		"nonce:alice":   "1",
	}

	for k, v := range entries {
		var err error
		root, err = tree.Put(root, keyHashOf(k), valueHashOf(v))
		if err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}

	for k, v := range entries {
		got, found, err := tree.Get(root, keyHashOf(k))
		if err != nil {
			t.Fatalf("get %s: %v", k, err)
		}
		if !found {
			t.Fatalf("key %s not found", k)
		}
		if got != valueHashOf(v) {
			t.Fatalf("key %s: got %x want %x", k, got, valueHashOf(v))
		}
	}

	if _, found, _ := tree.Get(root, keyHashOf("balance:carol")); found {
		t.Fatalf("unexpected key found")
	}
}

func TestRootIndependentOfInsertionOrder(t *testing.T) {
	keys := []string{"a", "b", "c", "d", "e"}

	build := func(order []string) Hash {
		store := newMemStore()
		tree := New(store)
		root := EmptyRoot()
		for _, k := range order {
			var err error
			root, err = tree.Put(root, keyHashOf(k), valueHashOf(k))
			if err != nil {
				t.Fatalf("put: %v", err)
			}
		}
		return root
	}

	rootForward := build(keys)
	reversed := make([]string, len(keys))
	for i, k := range keys {
		reversed[len(keys)-1-i] = k
	}
	rootReversed := build(reversed)

	if rootForward != rootReversed {
		t.Fatalf("state root depends on insertion order: %x vs %x", rootForward, rootReversed)
	}
}

func TestDeleteRestoresEmptyRoot(t *testing.T) {
	store := newMemStore()
	tree := New(store)
	root := EmptyRoot()

	root, err := tree.Put(root, keyHashOf("x"), valueHashOf("x"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	root, err = tree.Put(root, keyHashOf("x"), Hash{})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if root != EmptyRoot() {
		t.Fatalf("deleting the only key should restore the empty root, got %x", root)
	}
}

func TestUpdateOverwritesValue(t *testing.T) {
	store := newMemStore()
	tree := New(store)
	root := EmptyRoot()

	root, _ = tree.Put(root, keyHashOf("k"), valueHashOf("v1"))
	root, _ = tree.Put(root, keyHashOf("k"), valueHashOf("v2"))

	got, found, err := tree.Get(root, keyHashOf("k"))
	if err != nil || !found {
		t.Fatalf("get: found=%v err=%v", found, err)
	}
	if got != valueHashOf("v2") {
		t.Fatalf("expected updated value hash")
	}
}
