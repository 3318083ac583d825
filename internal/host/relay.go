package host

// Relay moves queued messages between two hosts until both outboxes are
// empty. Expired and already-resolved messages are dropped: the sending
// chain's timeout sweep owns the compensating action, and a duplicate can
// never fire a second terminal callback.
func Relay(a, b *Host) error {
	for {
		fromA := a.DrainOutbound()
		fromB := b.DrainOutbound()
		if len(fromA) == 0 && len(fromB) == 0 {
			return nil
		}

		for _, item := range fromA {
			if err := deliver(b, item); err != nil {
				return err
			}
		}
		for _, item := range fromB {
			if err := deliver(a, item); err != nil {
				return err
			}
		}
	}
}

func deliver(h *Host, item OutboundItem) error {
	err := h.Receive(item.Kind, item.Payload)
	switch err {
	case nil, ErrExpired, ErrAlreadyResolved:
		return nil
	default:
		return err
	}
}
