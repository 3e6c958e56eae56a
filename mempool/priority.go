package mempool

import (
	"container/heap"

	"dposchain/core/types"
)

// Order arranges txs for block assembly. Transactions of one sender keep
// their nonce order; across senders the pending head with the highest fee
// goes first, ties keeping admission order. At most max transactions are
// returned when max is positive.
func Order(txs []*types.Transaction, max int) []*types.Transaction {
	queues := make(map[string][]*types.Transaction)
	var senders []string
	for _, tx := range txs {
		if tx == nil {
			continue
		}
		key := tx.SenderPublicKeyHex()
		if _, ok := queues[key]; !ok {
			senders = append(senders, key)
		}
		queues[key] = append(queues[key], tx)
	}

	h := &feeHeap{}
	for i, key := range senders {
		q := queues[key]
		sortByNonce(q)
		heap.Push(h, &senderQueue{txs: q, order: i})
	}

	limit := len(txs)
	if max > 0 && max < limit {
		limit = max
	}
	out := make([]*types.Transaction, 0, limit)
	for h.Len() > 0 && len(out) < limit {
		q := (*h)[0]
		out = append(out, q.txs[0])
		q.txs = q.txs[1:]
		if len(q.txs) == 0 {
			heap.Pop(h)
			continue
		}
		heap.Fix(h, 0)
	}
	return out
}

func sortByNonce(q []*types.Transaction) {
	for i := 1; i < len(q); i++ {
		for j := i; j > 0 && q[j].Nonce < q[j-1].Nonce; j-- {
			q[j], q[j-1] = q[j-1], q[j]
		}
	}
}

type senderQueue struct {
	txs   []*types.Transaction
	order int
}

type feeHeap []*senderQueue

func (h feeHeap) Len() int { return len(h) }

func (h feeHeap) Less(i, j int) bool {
	if c := h[i].txs[0].FeeOrZero().Cmp(h[j].txs[0].FeeOrZero()); c != 0 {
		return c > 0
	}
	return h[i].order < h[j].order
}

func (h feeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *feeHeap) Push(x any) { *h = append(*h, x.(*senderQueue)) }

func (h *feeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
