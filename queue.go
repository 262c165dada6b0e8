package rews

// outboundQueue is a FIFO of frames waiting for an open connection.
// It is only touched from the session's serial context.
type outboundQueue struct {
	items [][]byte
}

func (q *outboundQueue) push(msg []byte) {
	q.items = append(q.items, msg)
}

func (q *outboundQueue) peek() []byte {
	return q.items[0]
}

func (q *outboundQueue) pop() {
	q.items[0] = nil
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
}

func (q *outboundQueue) len() int {
	return len(q.items)
}
