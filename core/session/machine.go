package session

// Transition returns the next state and the action required when ev arrives in cur.
// Events that the current state does not handle leave the state unchanged with ActionNone.
func Transition(cur State, ev EventKind) (State, Action) {
	switch ev {
	case EventStart:
		return StateAwaitingPhoto, ActionGreet
	case EventCancel:
		if cur == StateNone {
			return cur, ActionNone
		}
		return StateNone, ActionFarewell
	case EventStop:
		if cur == StateNone {
			return cur, ActionNone
		}
		return StateNone, ActionShutdown
	}

	switch cur {
	case StateAwaitingPhoto:
		if ev == EventPhoto {
			return StateAwaitingNext, ActionStoreImage
		}
	case StateAwaitingNext:
		switch ev {
		case EventPhoto:
			// resend overwrites the stored image
			return StateAwaitingNext, ActionStoreImage
		case EventText:
			return StateAwaitingPhoto, ActionClassify
		}
	}
	return cur, ActionNone
}
