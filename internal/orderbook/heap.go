package orderbook

// maxPriceHeap implements heap.Interface for bid prices (highest on top).
// Prices are uint64 throughout the engine, never signed.
type maxPriceHeap []uint64

func (h maxPriceHeap) Len() int            { return len(h) }
func (h maxPriceHeap) Less(i, j int) bool  { return h[i] > h[j] }
func (h maxPriceHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxPriceHeap) Push(x interface{}) { *h = append(*h, x.(uint64)) }
func (h *maxPriceHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
func (h maxPriceHeap) Peek() (uint64, bool) {
	if len(h) == 0 {
		return 0, false
	}
	return h[0], true
}

// minPriceHeap implements heap.Interface for ask prices (lowest on top).
type minPriceHeap []uint64

func (h minPriceHeap) Len() int            { return len(h) }
func (h minPriceHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h minPriceHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minPriceHeap) Push(x interface{}) { *h = append(*h, x.(uint64)) }
func (h *minPriceHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
func (h minPriceHeap) Peek() (uint64, bool) {
	if len(h) == 0 {
		return 0, false
	}
	return h[0], true
}
