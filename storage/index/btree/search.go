package btree

// Get performs a point lookup, per spec.md §4.4.2/§4.4.3.
func (t *Tree) Get(key Key) (Value, bool, error) {
	guard, stack, err := t.descend(nil, opRead, key)
	if err != nil {
		return Value{}, false, err
	}
	defer guard.releaseIfHeld()

	if len(stack) == 0 {
		return Value{}, false, nil
	}
	leaf := stack[len(stack)-1]
	defer t.releaseFrame(leaf)

	idx, found := searchSlot(leaf.nd.keys, key)
	if !found {
		return Value{}, false, nil
	}
	return leaf.nd.values[idx], true, nil
}
