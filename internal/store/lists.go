package store

func prepend[T any](list []*T, item *T) []*T {
	return append([]*T{item}, list...)
}

// replace swaps the element old (by identity) for next.
func replace[T any](list []*T, old, next *T) []*T {
	out := make([]*T, len(list))
	for i, item := range list {
		if item == old {
			item = next
		}
		out[i] = item
	}
	return out
}

// remove drops the first element matching and returns it with its index, or -1.
func remove[T any](list []*T, match func(*T) bool) ([]*T, *T, int) {
	for i, item := range list {
		if match(item) {
			out := make([]*T, 0, len(list)-1)
			out = append(out, list[:i]...)
			return append(out, list[i+1:]...), item, i
		}
	}
	return list, nil, -1
}

// insertAt puts item back at index i, clamped to the list bounds.
func insertAt[T any](list []*T, i int, item *T) []*T {
	if i < 0 || i > len(list) {
		i = len(list)
	}
	out := make([]*T, 0, len(list)+1)
	out = append(out, list[:i]...)
	out = append(out, item)
	return append(out, list[i:]...)
}

func find[T any](list []*T, match func(*T) bool) *T {
	for _, item := range list {
		if match(item) {
			return item
		}
	}
	return nil
}
